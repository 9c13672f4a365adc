// ABOUTME: Default implementations for client dependencies
// ABOUTME: Builds the logger, caches, request client and durable adapter from settings

package reader

import (
	"context"
	"os"

	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/cache/memory"
	httpstd "digests-reader/infrastructure/http/standard"
	"digests-reader/infrastructure/legacy/file"
	logstd "digests-reader/infrastructure/logger/standard"
	"digests-reader/infrastructure/persistence"
	memstore "digests-reader/infrastructure/persistence/memory"
	"digests-reader/infrastructure/persistence/redis"
	"digests-reader/infrastructure/persistence/sqlite"
	"digests-reader/pkg/config"
	"digests-reader/pkg/featureflags"
)

// DefaultLogger creates a logrus logger on stderr using the log settings
func DefaultLogger(settings config.LogConfig) interfaces.Logger {
	return logstd.NewLogger(os.Stderr, settings.Level, logstd.Format(settings.Format))
}

// DefaultCache creates the TTL memory cache for fetch results
func DefaultCache(settings config.CacheConfig) interfaces.Cache {
	return memory.NewMemoryCache(settings.TTL, settings.CleanupInterval)
}

// DefaultHTTPClient creates the resilient request client. Deduplication and
// circuit breaking follow their feature flags.
func DefaultHTTPClient(ctx context.Context, settings config.RequestConfig, flags featureflags.Manager, logger interfaces.Logger) *httpstd.StandardHTTPClient {
	return httpstd.NewStandardHTTPClient(httpstd.Options{
		Timeout: settings.Timeout,
		Retry: interfaces.RetryPolicy{
			Attempts:     settings.RetryAttempts,
			Backoff:      interfaces.Backoff(settings.RetryBackoff),
			InitialDelay: settings.RetryInitialDelay,
			MaxDelay:     settings.RetryMaxDelay,
			Factor:       settings.RetryFactor,
		},
		Breaker: httpstd.BreakerSettings{
			Threshold:        settings.BreakerThreshold,
			ResetTimeout:     settings.BreakerResetTimeout,
			HalfOpenRequests: settings.BreakerHalfOpenRequests,
		},
		RateLimit:       settings.RateLimit,
		Deduplicate:     flags.IsEnabled(ctx, featureflags.Deduplication),
		CircuitBreaking: flags.IsEnabled(ctx, featureflags.CircuitBreaking),
		Logger:          logger,
	})
}

// DefaultAdapter opens the configured durable backend. When sqlite or redis
// cannot be opened the client degrades to an in-memory adapter so reads
// and writes keep working for the life of the process.
func DefaultAdapter(ctx context.Context, settings config.StorageConfig, logger interfaces.Logger) interfaces.PersistenceAdapter {
	opts := persistence.Options{
		Quota:               settings.Quota,
		CleanupThreshold:    settings.CleanupThreshold,
		MaintenanceInterval: settings.MaintenanceInterval,
		Logger:              logger,
	}

	switch settings.Backend {
	case "sqlite":
		adapter := sqlite.NewAdapter(settings.Path, opts)
		if err := adapter.Open(ctx); err != nil {
			logger.Warn("SQLite storage unavailable, falling back to memory", map[string]interface{}{
				"path":  settings.Path,
				"error": err.Error(),
			})
			adapter.Destroy()
			break
		}
		return adapter
	case "redis":
		adapter, err := redis.NewAdapter(redis.Config{
			Address:   settings.Redis.Address,
			Password:  settings.Redis.Password,
			DB:        settings.Redis.DB,
			Namespace: settings.Redis.Namespace,
		}, opts)
		if err == nil {
			err = adapter.Open(ctx)
			if err != nil {
				adapter.Destroy()
			}
		}
		if err != nil {
			logger.Warn("Redis storage unavailable, falling back to memory", map[string]interface{}{
				"address": settings.Redis.Address,
				"error":   err.Error(),
			})
			break
		}
		return adapter
	}

	return memstore.NewAdapter(opts)
}

// DefaultLegacyStore opens the JSON legacy store at path, or returns nil
// when no path is configured
func DefaultLegacyStore(path string) interfaces.LegacyStore {
	if path == "" {
		return nil
	}
	return file.NewStore(path)
}
