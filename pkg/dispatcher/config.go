package dispatcher

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	EnvFacesDir       = "FACES_DIR"
	EnvCrestsDir      = "CRESTS_DIR"
	EnvInterval       = "DISPATCH_INTERVAL"
	EnvErrorBackoff   = "DISPATCH_ERROR_BACKOFF"
	EnvImageCacheSize = "IMAGE_CACHE_SIZE"
)

// Config holds the dispatcher settings.
type Config struct {
	FacesDir  string
	CrestsDir string
	// Interval is the pause between two successful cycles.
	Interval time.Duration
	// ErrorBackoff replaces Interval after a cycle with a failure.
	ErrorBackoff   time.Duration
	ImageCacheSize int
	// StatusEvery logs a status line every n published messages.
	StatusEvery int64
}

// LoadConfigWithEnv returns defaults overridden by the environment.
func LoadConfigWithEnv() *Config {
	cfg := &Config{
		FacesDir:       "/app/base-rosto/",
		CrestsDir:      "/app/base-brasao/",
		Interval:       5 * time.Second,
		ErrorBackoff:   time.Second,
		ImageCacheSize: 64,
		StatusEvery:    10,
	}
	if v := os.Getenv(EnvFacesDir); v != "" {
		cfg.FacesDir = v
	}
	if v := os.Getenv(EnvCrestsDir); v != "" {
		cfg.CrestsDir = v
	}
	cfg.Interval = durationFromEnv(EnvInterval, cfg.Interval)
	cfg.ErrorBackoff = durationFromEnv(EnvErrorBackoff, cfg.ErrorBackoff)
	if v := os.Getenv(EnvImageCacheSize); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ImageCacheSize = n
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + EnvImageCacheSize)
		}
	}
	return cfg
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("value", v).Msg("Ignoring invalid " + key)
		return def
	}
	return d
}
