// Package interfaces defines the core interfaces used throughout the reader.
// These interfaces allow for dependency injection and make the code testable.
package interfaces

import "time"

// Cache is an in-process key/value store with per-entry expiry, used to
// deduplicate identical fetches within a short window.
//
// Example usage:
//
//	cache := someCache // implements Cache interface
//
//	// Store a value for the default TTL
//	cache.Set("feeds:abc", feeds, 0)
//
//	// Retrieve a value
//	if v, ok := cache.Get("feeds:abc"); ok {
//		feeds := v.([]*domain.Feed)
//	}
type Cache interface {
	// Get returns the value for key. Missing and expired keys report false;
	// an expired entry is removed as a side effect.
	Get(key string) (any, bool)

	// Set stores value under key. A ttl of 0 uses the cache default,
	// a negative ttl never expires.
	Set(key string, value any, ttl time.Duration)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string)

	// Clear removes every entry.
	Clear()

	// Has reports whether key holds an unexpired value.
	Has(key string) bool

	// Keys lists all unexpired keys.
	Keys() []string
}
