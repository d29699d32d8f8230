package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
	EnvRedisCacheTTL = "REDIS_CACHE_TTL"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	CacheTTL  time.Duration
	KeyPrefix string
}

// LoadRedisConfigWithEnv reads the Redis tier settings. The tier is optional: ok is
// false when REDIS_ADDR is unset.
func LoadRedisConfigWithEnv() (cfg *RedisConfig, ok bool) {
	cfg = &RedisConfig{
		CacheTTL:  10 * time.Minute,
		KeyPrefix: "image:",
	}
	cfg.Addr = os.Getenv(EnvRedisAddr)
	cfg.Password = os.Getenv(EnvRedisPassword)
	if v := os.Getenv(EnvRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil && db >= 0 {
			cfg.DB = db
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + EnvRedisDB)
		}
	}
	if v := os.Getenv(EnvRedisCacheTTL); v != "" {
		if ttl, err := time.ParseDuration(v); err == nil && ttl > 0 {
			cfg.CacheTTL = ttl
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid " + EnvRedisCacheTTL)
		}
	}
	return cfg, cfg.Addr != ""
}

// Codec converts cached values to and from their stored form.
type Codec[V any] struct {
	Marshal   func(V) ([]byte, error)
	Unmarshal func([]byte) (V, error)
}

// BytesCodec stores raw bytes unchanged.
func BytesCodec() Codec[[]byte] {
	return Codec[[]byte]{
		Marshal:   func(b []byte) ([]byte, error) { return b, nil },
		Unmarshal: func(b []byte) ([]byte, error) { return b, nil },
	}
}

// RedisCache is a read-through cache backed by Redis. Misses are served by the
// fallback and written back to Redis in the background.
type RedisCache[K comparable, V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
	prefix      string
	codec       Codec[V]
	fallback    Fetcher[K, V]
	writes      sync.WaitGroup
}

// NewRedisCache connects to Redis and pings it before returning.
func NewRedisCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	codec Codec[V],
	logger zerolog.Logger,
	fallback Fetcher[K, V],
) (*RedisCache[K, V], error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisCache[K, V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisCache").Logger(),
		ttl:         cfg.CacheTTL,
		prefix:      cfg.KeyPrefix,
		codec:       codec,
		fallback:    fallback,
	}, nil
}

// Fetch retrieves an item by key from Redis, falling back on a miss.
func (c *RedisCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	value, err := c.fetchFromRedis(ctx, key)
	if err == nil {
		return value, nil
	}

	// redis.Nil is a plain miss; anything else means Redis itself is unhealthy and
	// the source is still the better answer.
	if !errors.Is(err, redis.Nil) {
		c.logger.Warn().Err(err).Msg("Redis fetch failed, reading from fallback.")
	}

	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in cache and no fallback is configured", key)
	}

	sourceValue, sourceErr := c.fallback.Fetch(ctx, key)
	if sourceErr != nil {
		return zero, sourceErr
	}

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if writeErr := c.Write(writeCtx, key, sourceValue); writeErr != nil {
			c.logger.Error().Err(writeErr).Str("key", c.redisKey(key)).Msg("Failed to write to cache in background.")
		}
	}()

	return sourceValue, nil
}

func (c *RedisCache[K, V]) redisKey(key K) string {
	return c.prefix + fmt.Sprintf("%v", key)
}

func (c *RedisCache[K, V]) fetchFromRedis(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := c.redisKey(key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		return zero, err
	}

	value, err := c.codec.Unmarshal(cachedData)
	if err != nil {
		return zero, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Redis cache hit.")
	return value, nil
}

// Write stores value under key with the configured TTL.
func (c *RedisCache[K, V]) Write(ctx context.Context, key K, value V) error {
	stringKey := c.redisKey(key)
	data, err := c.codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := c.redisClient.Set(ctx, stringKey, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}

	c.logger.Debug().Str("key", stringKey).Msg("Successfully stored data in Redis cache.")
	return nil
}

// Close waits for pending write-backs, then closes the client and the fallback.
func (c *RedisCache[K, V]) Close() error {
	c.writes.Wait()
	var errs []error
	if c.redisClient != nil {
		c.logger.Info().Msg("Closing Redis client connection...")
		errs = append(errs, c.redisClient.Close())
	}
	if c.fallback != nil {
		errs = append(errs, c.fallback.Close())
	}
	return errors.Join(errs...)
}
