// Package cache provides read-through caches that can be chained in front of a
// slow source, for example an in-memory LRU in front of Redis in front of disk.
package cache

import "context"

// Fetcher is anything that can produce a value for a key. Caches are Fetchers and
// take another Fetcher as their fallback on a miss.
type Fetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	Close() error
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[K any, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f(ctx, key).
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error { return nil }
