package worker

import (
	"os"
	"strconv"

	"github.com/illmade-knight/go-imagepipeline/pkg/types"
	"github.com/rs/zerolog/log"
)

const EnvMaxPayloadBytes = "MAX_PAYLOAD_BYTES"

const defaultMaxPayloadBytes = 16 << 20

// Config holds the settings of one classification worker.
type Config struct {
	// Class is the class this worker's queue is bound to.
	Class types.Class
	// MaxPayloadBytes bounds the raw envelope size; larger deliveries are discarded
	// without decoding. Zero disables the bound.
	MaxPayloadBytes int
}

// LoadConfigWithEnv returns the defaults for class, overridden by the environment.
func LoadConfigWithEnv(class types.Class) *Config {
	cfg := &Config{
		Class:           class,
		MaxPayloadBytes: defaultMaxPayloadBytes,
	}
	if v := os.Getenv(EnvMaxPayloadBytes); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxPayloadBytes = n
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + EnvMaxPayloadBytes)
		}
	}
	return cfg
}
