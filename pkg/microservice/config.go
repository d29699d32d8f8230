// Package microservice holds what every pipeline process shares: base
// configuration, logger setup, operational HTTP endpoints and metrics.
package microservice

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel  = "LOG_LEVEL"
	EnvLogFormat = "LOG_FORMAT"
	EnvHTTPPort  = "HTTP_PORT"
)

// BaseConfig holds common configuration fields for all services.
type BaseConfig struct {
	ServiceName string
	LogLevel    string
	LogFormat   string
	HTTPPort    string
	// ShutdownTimeout bounds the ordered stop of all components.
	ShutdownTimeout time.Duration
}

// LoadBaseConfigWithEnv returns defaults overridden by the environment.
func LoadBaseConfigWithEnv(serviceName string) *BaseConfig {
	cfg := &BaseConfig{
		ServiceName:     serviceName,
		LogLevel:        "info",
		LogFormat:       "json",
		HTTPPort:        ":8080",
		ShutdownTimeout: 15 * time.Second,
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv(EnvHTTPPort); v != "" {
		if !strings.Contains(v, ":") {
			v = ":" + v
		}
		cfg.HTTPPort = v
	}
	return cfg
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(cfg *BaseConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Logger()
}
