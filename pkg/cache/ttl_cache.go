package cache

import (
	"sync"
	"time"
)

// TTLCache is a small in-process map whose entries expire after a fixed TTL.
// Expired entries are hidden from Get and reclaimed by Purge or the next Set
// of the same key.
type TTLCache[V any] struct {
	mu   sync.RWMutex
	data map[string]item[V]
	ttl  time.Duration
	now  func() time.Time
}

type item[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

// NewTTLCache creates a cache; a ttl <= 0 keeps entries until deleted.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{data: make(map[string]item[V]), ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.data[key]
	if !ok || c.expired(it) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// CreatedAt reports when the live entry for key was stored.
func (c *TTLCache[V]) CreatedAt(key string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.data[key]
	if !ok || c.expired(it) {
		return time.Time{}, false
	}
	return it.createdAt, true
}

// Set stores value under key, replacing any previous entry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expires time.Time
	if c.ttl > 0 {
		expires = now.Add(c.ttl)
	}
	c.data[key] = item[V]{value: value, createdAt: now, expiresAt: expires}
}

// Delete removes the given keys.
func (c *TTLCache[V]) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, it := range c.data {
		if c.expired(it) {
			delete(c.data, k)
			removed++
		}
	}
	return removed
}

// Len counts live entries.
func (c *TTLCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, it := range c.data {
		if !c.expired(it) {
			n++
		}
	}
	return n
}

func (c *TTLCache[V]) expired(it item[V]) bool {
	return !it.expiresAt.IsZero() && !c.now().Before(it.expiresAt)
}
