// utils/cache.go
package utils

import (
	"sync"
	"time"
)

// Cache is a process-wide TTL cache. Entries are replaced whole on write, so
// concurrent readers never observe a partially updated value; a race between
// two writers only costs a redundant upstream fetch.
type Cache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry[V]
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry[V]),
	}
}

// NewCacheWithClock is NewCache with an injectable clock, for tests.
func NewCacheWithClock[V any](ttl time.Duration, now func() time.Time) *Cache[V] {
	c := NewCache[V](ttl)
	c.now = now
	return c
}

// Get returns the cached value for key if it is still within TTL.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(entry.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key, overwriting any previous entry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[V]{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry[V])
	c.mu.Unlock()
}
