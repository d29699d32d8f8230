package messagepipeline

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMissingCredentials is returned when broker settings a process cannot run without
// are absent from the environment.
var ErrMissingCredentials = errors.New("rabbitmq connection settings not defined")

// RabbitMQConfig holds the connection parameters for the RabbitMQ broker.
type RabbitMQConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	VHost    string
	// ConnectionName is reported to the broker and shows up in the management UI.
	ConnectionName string
	// Heartbeat is the AMQP heartbeat interval negotiated with the broker.
	Heartbeat time.Duration
	// ReconnectInterval is the fixed wait between reconnection attempts after the
	// connection is lost.
	ReconnectInterval time.Duration
	// ConnectAttempts bounds the number of dial attempts made at startup.
	ConnectAttempts int
}

// Env constants for RabbitMQ settings.
const (
	RabbitHost              = "RABBITMQ_HOST"
	RabbitUser              = "RABBITMQ_USER"
	RabbitPass              = "RABBITMQ_PASS"
	RabbitPort              = "RABBITMQ_PORT"
	RabbitVHost             = "RABBITMQ_VHOST"
	RabbitReconnectInterval = "RABBITMQ_RECONNECT_INTERVAL"
	RabbitConnectAttempts   = "RABBITMQ_CONNECT_ATTEMPTS"
)

// LoadRabbitMQConfigWithEnv loads broker configuration from environment variables.
//
// When requireCredentials is true, RABBITMQ_HOST, RABBITMQ_USER and RABBITMQ_PASS must
// all be set and ErrMissingCredentials is returned otherwise. When false, they default
// to localhost/guest/guest. Operational settings fall back to defaults when unset or
// unparsable.
func LoadRabbitMQConfigWithEnv(requireCredentials bool) (*RabbitMQConfig, error) {
	cfg := &RabbitMQConfig{
		Host:              "localhost",
		Port:              5672,
		Username:          "guest",
		Password:          "guest",
		VHost:             "/",
		Heartbeat:         10 * time.Second,
		ReconnectInterval: 5 * time.Second,
		ConnectAttempts:   5,
	}

	var missing []string
	for _, field := range []struct {
		env    string
		target *string
	}{
		{RabbitHost, &cfg.Host},
		{RabbitUser, &cfg.Username},
		{RabbitPass, &cfg.Password},
	} {
		v, ok := os.LookupEnv(field.env)
		if !ok || v == "" {
			missing = append(missing, field.env)
			continue
		}
		*field.target = v
	}
	if requireCredentials && len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	if p := os.Getenv(RabbitPort); p != "" {
		if val, err := strconv.Atoi(p); err == nil && val > 0 {
			cfg.Port = val
		} else {
			log.Warn().Str("value", p).Msg("Ignoring invalid " + RabbitPort)
		}
	}
	if vh := os.Getenv(RabbitVHost); vh != "" {
		cfg.VHost = vh
	}
	if ri := os.Getenv(RabbitReconnectInterval); ri != "" {
		if val, err := time.ParseDuration(ri); err == nil && val > 0 {
			cfg.ReconnectInterval = val
		} else {
			log.Warn().Str("value", ri).Msg("Ignoring invalid " + RabbitReconnectInterval)
		}
	}
	if ca := os.Getenv(RabbitConnectAttempts); ca != "" {
		if val, err := strconv.Atoi(ca); err == nil && val > 0 {
			cfg.ConnectAttempts = val
		} else {
			log.Warn().Str("value", ca).Msg("Ignoring invalid " + RabbitConnectAttempts)
		}
	}
	return cfg, nil
}

// URL builds the AMQP URI for the configuration.
func (c *RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.Username, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
	}
	if c.VHost != "" && c.VHost != "/" {
		u.Path = "/" + c.VHost
	} else {
		u.Path = "/"
	}
	return u.String()
}

// Redacted returns the broker address without credentials, for logging.
func (c *RabbitMQConfig) Redacted() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
