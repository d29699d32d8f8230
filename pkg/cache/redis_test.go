package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-imagepipeline/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, source cache.Fetcher[string, []byte]) (*miniredis.Miniredis, *cache.RedisCache[string, []byte]) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := &cache.RedisConfig{Addr: mr.Addr(), CacheTTL: time.Minute, KeyPrefix: "image:"}
	rc, err := cache.NewRedisCache[string, []byte](context.Background(), cfg, cache.BytesCodec(), zerolog.Nop(), source)
	require.NoError(t, err)
	return mr, rc
}

func TestRedisCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource()
	mr, rc := newTestRedis(t, source)

	// Act 1: miss reads the source and writes back in the background.
	v, err := rc.Fetch(ctx, "/corpus/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-a"), v)
	require.Eventually(t, func() bool {
		return mr.Exists("image:/corpus/a.png")
	}, time.Second, 10*time.Millisecond)

	stored, err := mr.Get("image:/corpus/a.png")
	require.NoError(t, err)
	assert.Equal(t, "image-a", stored)
	assert.Greater(t, mr.TTL("image:/corpus/a.png"), time.Duration(0))

	// Act 2: hit does not touch the source.
	v, err = rc.Fetch(ctx, "/corpus/a.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("image-a"), v)
	assert.Equal(t, int32(1), source.calls.Load())

	require.NoError(t, rc.Close())
	assert.True(t, source.closed.Load())
}

func TestRedisCache_Expiry(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource()
	mr, rc := newTestRedis(t, source)
	t.Cleanup(func() { _ = rc.Close() })

	require.NoError(t, rc.Write(ctx, "/corpus/b.png", []byte("image-b")))
	mr.FastForward(2 * time.Minute)

	v, err := rc.Fetch(ctx, "/corpus/b.png")

	require.NoError(t, err)
	assert.Equal(t, []byte("image-b"), v)
	assert.Equal(t, int32(1), source.calls.Load(), "expired entry must be reread from the source")
}

func TestRedisCache_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	source := newCountingSource()
	mr, rc := newTestRedis(t, source)
	t.Cleanup(func() { _ = rc.Close() })

	mr.Close()

	v, err := rc.Fetch(ctx, "/corpus/c.jpg")

	require.NoError(t, err)
	assert.Equal(t, []byte("image-c"), v)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := cache.NewRedisCache[string, []byte](context.Background(), &cache.RedisConfig{Addr: addr}, cache.BytesCodec(), zerolog.Nop(), nil)

	assert.Error(t, err)
}

func TestLoadRedisConfigWithEnv(t *testing.T) {
	t.Run("disabled without address", func(t *testing.T) {
		t.Setenv(cache.EnvRedisAddr, "")
		_, ok := cache.LoadRedisConfigWithEnv()
		assert.False(t, ok)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv(cache.EnvRedisAddr, "redis:6379")
		t.Setenv(cache.EnvRedisDB, "2")
		t.Setenv(cache.EnvRedisCacheTTL, "30s")

		cfg, ok := cache.LoadRedisConfigWithEnv()

		assert.True(t, ok)
		assert.Equal(t, "redis:6379", cfg.Addr)
		assert.Equal(t, 2, cfg.DB)
		assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	})

	t.Run("invalid values keep defaults", func(t *testing.T) {
		t.Setenv(cache.EnvRedisAddr, "redis:6379")
		t.Setenv(cache.EnvRedisDB, "x")
		t.Setenv(cache.EnvRedisCacheTTL, "-1s")

		cfg, _ := cache.LoadRedisConfigWithEnv()

		assert.Equal(t, 0, cfg.DB)
		assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	})
}
