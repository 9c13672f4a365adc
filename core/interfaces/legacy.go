// ABOUTME: Contract for the legacy flat key/value store that predates durable persistence
// ABOUTME: Migration reads from it and may restore into it on rollback

package interfaces

import "context"

// LegacyStore is a flat string key/value store
type LegacyStore interface {
	// Keys lists every key in the store.
	Keys(ctx context.Context) ([]string, error)

	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error
}
