package lru

import (
	"sync"
	"time"
)

// NewTTLCache creates a new TTL cache for the given types.
func NewTTLCache[K comparable, V any]() *TTLCache[K, V] {
	return &TTLCache[K, V]{entries: make(map[K]ttlEntry[V])}
}

// TTLCache implements a safe cache where each entry has an expiration time.
// Note that the API doesn't use [time.Duration] nor [time.Now];
// this allows the caller to reuse a single [time.Now] call when inserting
// many entries, and enables testing without any sleeps.
type TTLCache[K comparable, V any] struct {
	entriesMu sync.RWMutex
	entries   map[K]ttlEntry[V]
}

type ttlEntry[V any] struct {
	expiration time.Time
	value      V
}

// PutIfAbsent inserts the element only if k is not present or its entry has
// expired at now. It reports whether the element was inserted. Expired
// entries are replaced in place.
func (c *TTLCache[K, V]) PutIfAbsent(k K, v V, expiration, now time.Time) bool {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	if entry, ok := c.entries[k]; ok && !entry.expiration.Before(now) {
		return false
	}
	c.entries[k] = ttlEntry[V]{expiration: expiration, value: v}
	return true
}

// Get retrieves an element from the cache, expired or not.
func (c *TTLCache[K, V]) Get(k K) (V, bool) {
	c.entriesMu.RLock()
	defer c.entriesMu.RUnlock()

	entry, ok := c.entries[k]
	return entry.value, ok
}

// Delete removes k from the cache.
func (c *TTLCache[K, V]) Delete(k K) {
	c.entriesMu.Lock()
	defer c.entriesMu.Unlock()
	delete(c.entries, k)
}
