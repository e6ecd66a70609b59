package lru

import (
	glru "github.com/hashicorp/golang-lru"
)

// Cache is a typed, size bounded least-recently-used cache. It is safe for
// concurrent use.
type Cache[K comparable, V any] struct {
	entries *glru.Cache
}

// New creates a cache holding at most size entries. It panics if size is not
// positive.
func New[K comparable, V any](size int) *Cache[K, V] {
	entries, err := glru.New(size)
	if err != nil {
		panic(err)
	}
	return &Cache[K, V]{entries: entries}
}

// Add inserts or refreshes k. It reports whether an older entry was evicted
// to make room.
func (c *Cache[K, V]) Add(k K, v V) (evicted bool) {
	return c.entries.Add(k, v)
}

// Get returns the value for k and marks it as recently used.
func (c *Cache[K, V]) Get(k K) (V, bool) {
	v, ok := c.entries.Get(k)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Contains reports whether k is cached, without updating its recentness.
func (c *Cache[K, V]) Contains(k K) bool {
	return c.entries.Contains(k)
}

// Remove drops k from the cache.
func (c *Cache[K, V]) Remove(k K) {
	c.entries.Remove(k)
}

func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}
