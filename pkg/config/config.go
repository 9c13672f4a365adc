// ABOUTME: Configuration management for the reader with environment variable support
// ABOUTME: Defines cache, request, storage, persistence, migration and logging settings

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all reader configuration
type Config struct {
	Cache       CacheConfig
	Request     RequestConfig
	Storage     StorageConfig
	Persistence PersistenceConfig
	Migration   MigrationConfig
	Log         LogConfig
}

// CacheConfig holds in-memory fetch cache configuration
type CacheConfig struct {
	// TTL is how long fetch results are reused
	TTL time.Duration

	// CleanupInterval is how often expired entries are swept
	CleanupInterval time.Duration

	// StaleTime is how long query cache data is served without refetching
	StaleTime time.Duration
}

// RequestConfig holds upstream API and resilience settings
type RequestConfig struct {
	// APIBaseURL is the root of the feed parsing API
	APIBaseURL string

	Timeout time.Duration

	RetryAttempts     int
	RetryBackoff      string
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFactor       float64

	// RateLimit caps requests per second; zero disables limiting
	RateLimit float64

	BreakerThreshold        int
	BreakerResetTimeout     time.Duration
	BreakerHalfOpenRequests int

	// AddConcurrency bounds parallel fetches when adding feeds
	AddConcurrency int
}

// StorageConfig holds durable persistence backend configuration
type StorageConfig struct {
	// Backend specifies the adapter (sqlite/redis/memory)
	Backend string

	// Path is the sqlite database file
	Path string

	// Quota is the byte budget; zero means unlimited
	Quota int64

	// CleanupThreshold is the usage percentage that triggers cleanup
	CleanupThreshold float64

	MaintenanceInterval time.Duration

	Redis RedisConfig
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// Address is the Redis server address
	Address string

	// Password is the Redis authentication password
	Password string

	// DB is the Redis database number
	DB int

	// Namespace prefixes every key
	Namespace string
}

// PersistenceConfig holds query mirroring settings
type PersistenceConfig struct {
	Throttle      time.Duration
	BatchSize     int
	BatchInterval time.Duration
	MaxAge        time.Duration

	// Include and Exclude are comma separated glob patterns
	Include []string
	Exclude []string

	// SecureKey is a hex or base64 AES key; empty disables secure storage
	SecureKey string

	// SecureInclude selects the queries stored encrypted
	SecureInclude []string
}

// MigrationConfig holds legacy migration settings
type MigrationConfig struct {
	// LegacyPath is the JSON file holding legacy entries
	LegacyPath string
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string
	Format string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	var errs []error
	duration := func(key string, def time.Duration) time.Duration {
		d, err := getEnvAsDurationOrDefault(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	cfg := &Config{
		Cache: CacheConfig{
			TTL:             duration("CACHE_TTL", 5*time.Minute),
			CleanupInterval: duration("CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			StaleTime:       duration("CACHE_STALE_TIME", time.Minute),
		},
		Request: RequestConfig{
			APIBaseURL:              getEnvOrDefault("API_BASE_URL", "https://api.digests.app"),
			Timeout:                 duration("REQUEST_TIMEOUT", 30*time.Second),
			RetryAttempts:           getEnvAsIntOrDefault("RETRY_ATTEMPTS", 3),
			RetryBackoff:            getEnvOrDefault("RETRY_BACKOFF", "exponential"),
			RetryInitialDelay:       duration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
			RetryMaxDelay:           duration("RETRY_MAX_DELAY", 5*time.Second),
			RetryFactor:             getEnvAsFloatOrDefault("RETRY_FACTOR", 2),
			RateLimit:               getEnvAsFloatOrDefault("RATE_LIMIT", 0),
			BreakerThreshold:        getEnvAsIntOrDefault("BREAKER_THRESHOLD", 5),
			BreakerResetTimeout:     duration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			BreakerHalfOpenRequests: getEnvAsIntOrDefault("BREAKER_HALF_OPEN_REQUESTS", 1),
			AddConcurrency:          getEnvAsIntOrDefault("ADD_FEEDS_CONCURRENCY", 4),
		},
		Storage: StorageConfig{
			Backend:             getEnvOrDefault("STORAGE_BACKEND", "sqlite"),
			Path:                getEnvOrDefault("STORAGE_PATH", "digests-reader.db"),
			Quota:               int64(getEnvAsIntOrDefault("STORAGE_QUOTA", 50*1024*1024)),
			CleanupThreshold:    getEnvAsFloatOrDefault("STORAGE_CLEANUP_THRESHOLD", 80),
			MaintenanceInterval: duration("STORAGE_MAINTENANCE_INTERVAL", 5*time.Minute),
			Redis: RedisConfig{
				Address:   getEnvOrDefault("REDIS_ADDRESS", "localhost:6379"),
				Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
				DB:        getEnvAsIntOrDefault("REDIS_DB", 0),
				Namespace: getEnvOrDefault("REDIS_NAMESPACE", "digests-reader"),
			},
		},
		Persistence: PersistenceConfig{
			Throttle:      duration("PERSIST_THROTTLE", time.Second),
			BatchSize:     getEnvAsIntOrDefault("PERSIST_BATCH_SIZE", 10),
			BatchInterval: duration("PERSIST_BATCH_INTERVAL", 100*time.Millisecond),
			MaxAge:        duration("PERSIST_MAX_AGE", 24*time.Hour),
			Include:       getEnvAsListOrDefault("PERSIST_INCLUDE", nil),
			Exclude:       getEnvAsListOrDefault("PERSIST_EXCLUDE", []string{"auth*"}),
			SecureKey:     getEnvOrDefault("SECURE_STORAGE_KEY", ""),
			SecureInclude: getEnvAsListOrDefault("SECURE_INCLUDE", []string{"auth*"}),
		},
		Migration: MigrationConfig{
			LegacyPath: getEnvOrDefault("LEGACY_STORE_PATH", ""),
		},
		Log: LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault returns the environment variable as int or a default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloatOrDefault returns the environment variable as float64 or a default
func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts a bare integer as milliseconds or a Go
// duration string such as "1m30s"
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}

// getEnvAsListOrDefault splits a comma separated variable
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Request.APIBaseURL == "" {
		return errors.New("API base URL cannot be empty")
	}

	if c.Request.Timeout <= 0 {
		return errors.New("request timeout must be positive")
	}

	if c.Request.RetryAttempts < 1 {
		return errors.New("retry attempts must be at least 1")
	}

	if c.Request.RetryBackoff != "exponential" && c.Request.RetryBackoff != "linear" {
		return errors.New("retry backoff must be 'exponential' or 'linear'")
	}

	if c.Request.RetryFactor < 1 {
		return errors.New("retry factor must be at least 1")
	}

	if c.Request.BreakerThreshold < 1 {
		return errors.New("breaker threshold must be at least 1")
	}

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage path cannot be empty when using sqlite storage")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return errors.New("redis address cannot be empty when using redis storage")
		}
	case "memory":
	default:
		return errors.New("storage backend must be 'sqlite', 'redis' or 'memory'")
	}

	if c.Storage.Quota < 0 {
		return errors.New("storage quota cannot be negative")
	}

	if c.Storage.CleanupThreshold <= 0 || c.Storage.CleanupThreshold > 100 {
		return errors.New("storage cleanup threshold must be between 0 and 100")
	}

	if c.Persistence.BatchSize < 1 {
		return errors.New("persist batch size must be at least 1")
	}

	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("log format must be 'text' or 'json'")
	}

	return nil
}
