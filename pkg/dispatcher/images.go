package dispatcher

import (
	"context"
	"fmt"
	"os"

	"github.com/illmade-knight/go-imagepipeline/pkg/cache"
	"github.com/rs/zerolog"
)

// FileSource reads image bytes from disk. It is the last link of the image cache chain.
type FileSource struct{}

// Fetch reads the file at path.
func (FileSource) Fetch(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}
	return data, nil
}

// Close is a no-op.
func (FileSource) Close() error { return nil }

// NewImageReader builds the read path used by the dispatcher: an in-memory LRU of
// lruSize entries, then Redis when redisCfg is not nil, then the file system.
func NewImageReader(ctx context.Context, lruSize int, redisCfg *cache.RedisConfig, logger zerolog.Logger) (cache.Fetcher[string, []byte], error) {
	var next cache.Fetcher[string, []byte] = FileSource{}
	if redisCfg != nil {
		rc, err := cache.NewRedisCache[string, []byte](ctx, redisCfg, cache.BytesCodec(), logger, next)
		if err != nil {
			return nil, err
		}
		next = rc
	}
	lru, err := cache.NewInMemoryLRUCache[string, []byte](lruSize, next)
	if err != nil {
		_ = next.Close()
		return nil, err
	}
	return lru, nil
}
