package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
)

// lruCacheItem is the internal structure stored in the linked list.
type lruCacheItem[K comparable, V any] struct {
	key   K
	value V
}

// InMemoryLRUCache is a thread-safe, fixed-size cache with least recently used
// eviction. On a miss it reads through to its fallback Fetcher, if any.
type InMemoryLRUCache[K comparable, V any] struct {
	maxSize  int
	fallback Fetcher[K, V]

	mu    sync.Mutex
	ll    *list.List // front is most recently used
	cache map[K]*list.Element
}

// NewInMemoryLRUCache creates a cache holding at most maxSize entries. fallback may be nil.
func NewInMemoryLRUCache[K comparable, V any](maxSize int, fallback Fetcher[K, V]) (*InMemoryLRUCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	return &InMemoryLRUCache[K, V]{
		maxSize:  maxSize,
		fallback: fallback,
		ll:       list.New(),
		cache:    make(map[K]*list.Element),
	}, nil
}

// Fetch returns the cached value for key, or reads it from the fallback and stores it,
// evicting the least recently used entry when full. Fallback errors are not cached.
func (c *InMemoryLRUCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	c.mu.Lock()
	if elem, ok := c.cache[key]; ok {
		c.ll.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*lruCacheItem[K, V]).value, nil
	}
	c.mu.Unlock()

	var zero V
	if c.fallback == nil {
		return zero, fmt.Errorf("key '%v' not found in LRU cache and no fallback is configured", key)
	}

	sourceValue, err := c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have filled the slot while we were reading.
	if elem, ok := c.cache[key]; ok {
		c.ll.MoveToFront(elem)
		return elem.Value.(*lruCacheItem[K, V]).value, nil
	}

	c.cache[key] = c.ll.PushFront(&lruCacheItem[K, V]{key: key, value: sourceValue})
	if c.ll.Len() > c.maxSize {
		c.evict()
	}

	return sourceValue, nil
}

// evict must be called with mu held.
func (c *InMemoryLRUCache[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		itemToRemove := c.ll.Remove(elementToRemove).(*lruCacheItem[K, V])
		delete(c.cache, itemToRemove.key)
	}
}

// Len is the number of cached entries.
func (c *InMemoryLRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Close closes the fallback chain.
func (c *InMemoryLRUCache[K, V]) Close() error {
	if c.fallback != nil {
		return c.fallback.Close()
	}
	return nil
}
