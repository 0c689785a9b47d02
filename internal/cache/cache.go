// Package cache holds short-lived values such as token status lookups.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a concurrent-safe in-memory store whose entries expire after a
// fixed time to live. A zero ttl keeps entries until they are deleted.
type TTLCache[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[string]entry[V]
	now   func() time.Time
}

// NewTTLCache creates a cache whose entries live for ttl
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:   ttl,
		items: make(map[string]entry[V]),
		now:   time.Now,
	}
}

// Get returns the value and true if the key exists and has not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || c.expired(item) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Set adds or replaces a value and restarts its ttl
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item := entry[V]{value: value}
	if c.ttl > 0 {
		item.expiresAt = c.now().Add(c.ttl)
	}
	c.items[key] = item
}

// GetOrLoad returns the cached value, calling load and caching its result on
// a miss. Errors are not cached.
func (c *TTLCache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v)
	return v, nil
}

func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge drops expired entries and returns how many were removed
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, item := range c.items {
		if c.expired(item) {
			delete(c.items, k)
			removed++
		}
	}
	return removed
}

// Len counts entries, expired or not
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *TTLCache[V]) expired(item entry[V]) bool {
	return !item.expiresAt.IsZero() && !c.now().Before(item.expiresAt)
}
