// ABOUTME: Durable persistence contract for mirroring server state offline
// ABOUTME: Defines single-key, batch and maintenance operations over a key/value store

package interfaces

import (
	"context"

	"digests-reader/core/domain"
)

// PersistenceAdapter is an async durable key/value store.
//
// Reads treat expired records as absent and delete them. Batch operations
// apply every item they can and report the rest through *errors.BatchError.
type PersistenceAdapter interface {
	// Get returns the record for key, or nil when missing, expired or corrupt.
	Get(ctx context.Context, key string) (*domain.Record, error)

	// Set stores a record under record.Key.
	Set(ctx context.Context, record *domain.Record) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Clear removes every record.
	Clear(ctx context.Context) error

	// GetMany returns the records found for keys.
	GetMany(ctx context.Context, keys []string) (map[string]*domain.Record, error)

	// SetMany stores every record, keyed by its map key.
	SetMany(ctx context.Context, records map[string]*domain.Record) error

	// DeleteMany removes every key.
	DeleteMany(ctx context.Context, keys []string) error

	// Keys lists unexpired keys matching a glob pattern ("*" wildcards);
	// an empty pattern lists everything.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// StorageInfo reports usage against the configured quota.
	StorageInfo(ctx context.Context) (domain.StorageInfo, error)

	// Destroy stops background maintenance and releases the connection.
	Destroy() error
}
