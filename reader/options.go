// ABOUTME: Configuration options for the reader client
// ABOUTME: Provides functional options pattern for flexible client configuration

package reader

import (
	"digests-reader/core/interfaces"
	"digests-reader/pkg/config"
	"digests-reader/pkg/featureflags"
)

// Option is a functional option for configuring the client
type Option func(*Config) error

// Config holds everything the client is assembled from. Nil dependencies
// are built from Settings.
type Config struct {
	// Settings drives every default dependency; loaded from the environment when nil
	Settings *config.Config

	Logger     interfaces.Logger
	Cache      interfaces.Cache
	HTTPClient interfaces.HTTPClient

	// Adapter is the durable store queries are mirrored into
	Adapter interfaces.PersistenceAdapter

	// Legacy is the store migrated from; built from Settings.Migration.LegacyPath when nil
	Legacy interfaces.LegacyStore

	Flags featureflags.Manager
}

// WithSettings sets the configuration used to build default dependencies
func WithSettings(settings *config.Config) Option {
	return func(c *Config) error {
		if settings == nil {
			return NewError(ErrorTypeConfiguration, "settings cannot be nil")
		}
		if err := settings.Validate(); err != nil {
			return NewError(ErrorTypeConfiguration, "invalid settings").WithCause(err)
		}
		c.Settings = settings
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger interfaces.Logger) Option {
	return func(c *Config) error {
		c.Logger = logger
		return nil
	}
}

// WithCache sets a custom fetch cache implementation
func WithCache(cache interfaces.Cache) Option {
	return func(c *Config) error {
		c.Cache = cache
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client interfaces.HTTPClient) Option {
	return func(c *Config) error {
		c.HTTPClient = client
		return nil
	}
}

// WithAdapter sets the durable persistence adapter
func WithAdapter(adapter interfaces.PersistenceAdapter) Option {
	return func(c *Config) error {
		c.Adapter = adapter
		return nil
	}
}

// WithLegacyStore sets the store legacy entries are migrated from
func WithLegacyStore(store interfaces.LegacyStore) Option {
	return func(c *Config) error {
		c.Legacy = store
		return nil
	}
}

// WithFlags sets the feature flag manager
func WithFlags(flags featureflags.Manager) Option {
	return func(c *Config) error {
		c.Flags = flags
		return nil
	}
}

// WithQuietMode configures the client to suppress all log output
func WithQuietMode() Option {
	return func(c *Config) error {
		c.Logger = interfaces.NopLogger{}
		return nil
	}
}
