// ABOUTME: In-memory TTL cache backed by patrickmn/go-cache
// ABOUTME: Deduplicates identical fetches within a short window with lazy expiry on read

package memory

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryCache implements the interfaces.Cache contract on top of go-cache.
// Expired entries are dropped on read; the go-cache janitor also sweeps them
// in the background every cleanupInterval.
type MemoryCache struct {
	items      *cache.Cache
	defaultTTL time.Duration
}

// NewMemoryCache creates a cache whose entries live for defaultTTL unless
// overridden per entry. A cleanupInterval of zero disables the janitor.
func NewMemoryCache(defaultTTL, cleanupInterval time.Duration) *MemoryCache {
	if defaultTTL <= 0 {
		defaultTTL = cache.NoExpiration
	}
	return &MemoryCache{
		items:      cache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

// Get returns the value stored under key
func (c *MemoryCache) Get(key string) (any, bool) {
	value, found := c.items.Get(key)
	if !found {
		// go-cache reports expired items as missing but keeps them until the
		// next sweep
		c.items.Delete(key)
		return nil, false
	}
	return value, true
}

// Set stores value with the given ttl. Zero means the default TTL and a
// negative ttl never expires.
func (c *MemoryCache) Set(key string, value any, ttl time.Duration) {
	switch {
	case ttl == 0:
		ttl = cache.DefaultExpiration
	case ttl < 0:
		ttl = cache.NoExpiration
	}
	c.items.Set(key, value, ttl)
}

// Delete removes a key from the cache
func (c *MemoryCache) Delete(key string) {
	c.items.Delete(key)
}

// Clear removes every entry
func (c *MemoryCache) Clear() {
	c.items.Flush()
}

// Has reports whether key holds an unexpired value
func (c *MemoryCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Keys lists all unexpired keys
func (c *MemoryCache) Keys() []string {
	items := c.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// DefaultTTL returns the TTL applied when Set is called with zero
func (c *MemoryCache) DefaultTTL() time.Duration {
	return c.defaultTTL
}

// GetAs returns the value under key asserted to T. A stored value of a
// different type is reported as a miss.
func GetAs[T any](c *MemoryCache, key string) (T, bool) {
	var zero T
	value, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := value.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
