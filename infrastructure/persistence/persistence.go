// ABOUTME: Shared options and typed helpers for durable persistence adapters
// ABOUTME: Adds JSON-typed get/set on top of the byte-level PersistenceAdapter contract

package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
)

// EvictFraction is the share of entries evicted, oldest first, when a write
// hits the quota and removing expired entries was not enough.
const EvictFraction = 0.2

// Options configures quota handling and background maintenance
type Options struct {
	// Quota is the byte budget for keys plus values; zero means unlimited
	Quota int64

	// CleanupThreshold is the usage percentage that triggers maintenance cleanup
	CleanupThreshold float64

	// MaintenanceInterval is how often usage is checked; zero disables it
	MaintenanceInterval time.Duration

	Logger interfaces.Logger
}

// DefaultOptions returns a 50MB quota cleaned at 80% every five minutes
func DefaultOptions(logger interfaces.Logger) Options {
	return Options{
		Quota:               50 * 1024 * 1024,
		CleanupThreshold:    80,
		MaintenanceInterval: 5 * time.Minute,
		Logger:              logger,
	}
}

// EvictCount returns how many of total entries a quota eviction removes
func EvictCount(total int) int {
	n := int(float64(total) * EvictFraction)
	if n < 1 && total > 0 {
		n = 1
	}
	return n
}

// GetValue reads key from adapter and decodes it into T. The boolean is
// false when the key is missing, expired or corrupt.
func GetValue[T any](ctx context.Context, adapter interfaces.PersistenceAdapter, key string) (T, bool, error) {
	var zero T
	rec, err := adapter.Get(ctx, key)
	if err != nil || rec == nil {
		return zero, false, err
	}

	var out T
	if err := json.Unmarshal(rec.Value, &out); err != nil {
		return zero, false, errors.NewStorageError(errors.ErrCorruptedEntry, "get", key, err)
	}
	return out, true, nil
}

// SetValue encodes value as JSON and stores it under key for ttl.
// A ttl <= 0 stores the value without expiry.
func SetValue[T any](ctx context.Context, adapter interfaces.PersistenceAdapter, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	return adapter.Set(ctx, domain.NewRecord(key, data, ttl))
}

// MaintenanceLoop runs check every interval until stop is closed
func MaintenanceLoop(interval time.Duration, stop <-chan struct{}, check func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check()
		case <-stop:
			return
		}
	}
}
