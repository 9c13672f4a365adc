// ABOUTME: Main client for the reader wiring fetches, the query cache and durable persistence
// ABOUTME: Offers feed, article, restore, migration and storage operations behind one type

package reader

import (
	"context"
	stderrors "errors"
	"sync"

	"digests-reader/core/domain"
	"digests-reader/core/feed"
	"digests-reader/core/interfaces"
	"digests-reader/core/migration"
	"digests-reader/core/persister"
	"digests-reader/core/querycache"
	"digests-reader/pkg/config"
	"digests-reader/pkg/featureflags"
)

const (
	queryPrefix  = "query:"
	securePrefix = "secure:"
)

// Client is the main entry point for the reader
type Client struct {
	cfg     Config
	logger  interfaces.Logger
	adapter interfaces.PersistenceAdapter
	queries *querycache.Cache
	service *feed.FeedService
	loader  *feed.Loader

	// plugins holds the plain plugin first, then the secure plugin if enabled
	plugins []*persister.Plugin
	sealer  *persister.AESGCMSerializer

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new reader client with the given options
func NewClient(ctx context.Context, options ...Option) (*Client, error) {
	var cfg Config
	for _, opt := range options {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.Settings == nil {
		settings, err := config.LoadFromEnv()
		if err != nil {
			return nil, NewError(ErrorTypeConfiguration, "failed to load settings").WithCause(err)
		}
		if err := settings.Validate(); err != nil {
			return nil, NewError(ErrorTypeConfiguration, "invalid settings").WithCause(err)
		}
		cfg.Settings = settings
	}
	s := cfg.Settings

	if cfg.Logger == nil {
		cfg.Logger = DefaultLogger(s.Log)
	}
	if cfg.Flags == nil {
		cfg.Flags = featureflags.NewEnvManager("")
	}
	if cfg.Cache == nil {
		cfg.Cache = DefaultCache(s.Cache)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultHTTPClient(ctx, s.Request, cfg.Flags, cfg.Logger)
	}
	if cfg.Adapter == nil {
		cfg.Adapter = DefaultAdapter(ctx, s.Storage, cfg.Logger)
	}
	if cfg.Legacy == nil {
		cfg.Legacy = DefaultLegacyStore(s.Migration.LegacyPath)
	}

	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		adapter: cfg.Adapter,
		queries: querycache.New(),
	}

	if cfg.Flags.IsEnabled(ctx, featureflags.SecureStorage) {
		sealer, err := newSealer(s.Persistence.SecureKey)
		if err != nil {
			return nil, NewError(ErrorTypeConfiguration, "invalid secure storage key").WithCause(err)
		}
		if sealer == nil {
			c.logger.Warn("Secure storage enabled without a key, sensitive queries stay in memory", nil)
		}
		c.sealer = sealer
	}

	if cfg.Flags.IsEnabled(ctx, featureflags.Persistence) {
		c.plugins = c.newPlugins(s.Persistence)
	}

	deps := interfaces.Dependencies{
		Cache:      cfg.Cache,
		HTTPClient: cfg.HTTPClient,
		Logger:     cfg.Logger,
	}
	c.service = feed.NewFeedService(deps, feed.Options{
		BaseURL:     s.Request.APIBaseURL,
		CacheTTL:    s.Cache.TTL,
		Concurrency: s.Request.AddConcurrency,
	})

	var restorer feed.Restorer
	if len(c.plugins) > 0 {
		restorer = pluginRestorer(c.plugins)
	}
	c.loader = feed.NewLoader(c.service, c.queries, restorer, s.Cache.StaleTime)

	c.logger.Info("Reader client ready", map[string]interface{}{
		"storage":     s.Storage.Backend,
		"persistence": len(c.plugins) > 0,
		"secure":      c.sealer != nil,
	})
	return c, nil
}

func newSealer(key string) (*persister.AESGCMSerializer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := persister.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return persister.NewAESGCMSerializer(raw)
}

// newPlugins builds the plain plugin and, when a sealer exists, the secure
// one. Secure patterns are always excluded from plain storage.
func (c *Client) newPlugins(settings config.PersistenceConfig) []*persister.Plugin {
	base := persister.DefaultOptions()
	base.Throttle = settings.Throttle
	base.BatchSize = settings.BatchSize
	base.BatchInterval = settings.BatchInterval
	base.MaxAge = settings.MaxAge
	base.Logger = c.logger

	plain := base
	plain.Prefix = queryPrefix
	plain.Include = settings.Include
	plain.Exclude = append(append([]string{}, settings.Exclude...), settings.SecureInclude...)
	plain.Serializer = persister.JSONSerializer{}
	plugins := []*persister.Plugin{persister.New(c.queries, c.adapter, plain)}

	if c.sealer != nil && len(settings.SecureInclude) > 0 {
		secure := base
		secure.Prefix = securePrefix
		secure.Include = settings.SecureInclude
		secure.Serializer = c.sealer
		plugins = append(plugins, persister.New(c.queries, c.adapter, secure))
	}
	return plugins
}

// pluginRestorer tries each plugin in turn; a plugin ignores keys its
// policy does not persist
type pluginRestorer []*persister.Plugin

func (r pluginRestorer) RestoreKey(ctx context.Context, key domain.QueryKey) (bool, error) {
	var errs []error
	for _, p := range r {
		ok, err := p.RestoreKey(ctx, key)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return false, stderrors.Join(errs...)
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	return nil
}

// Queries exposes the reactive query cache
func (c *Client) Queries() *querycache.Cache {
	return c.queries
}

// Adapter exposes the durable store the client mirrors into
func (c *Client) Adapter() interfaces.PersistenceAdapter {
	return c.adapter
}

// Feeds returns the parsed feeds for urls through the query cache
func (c *Client) Feeds(ctx context.Context, urls []string) ([]*domain.Feed, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.loader.Feeds(ctx, urls)
}

// Items returns one page of the merged, newest-first items of urls
func (c *Client) Items(ctx context.Context, urls []string, page, perPage int) ([]domain.FeedItem, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.loader.Items(ctx, urls, page, perPage)
}

// AddFeeds fetches each URL independently and reports per-URL outcomes.
// Successful feeds are seeded into the query cache.
func (c *Client) AddFeeds(ctx context.Context, urls []string) (*domain.AddFeedsResult, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	result := c.service.AddFeeds(ctx, urls)
	for _, f := range result.Feeds {
		c.queries.SetData(feed.FeedsKey([]string{f.URL}), []*domain.Feed{f})
	}
	return result, nil
}

// Article returns the reader view for articleURL through the query cache
func (c *Client) Article(ctx context.Context, articleURL string) (*domain.ReaderView, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.loader.ReaderView(ctx, articleURL)
}

// Restore seeds every registered, empty query from durable storage
func (c *Client) Restore(ctx context.Context) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, p := range c.plugins {
		n, err := p.Restore(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, stderrors.Join(errs...)
}

// PurgeFeed drops every persisted query tagged with feedURL
func (c *Client) PurgeFeed(ctx context.Context, feedURL string) (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	total := 0
	for _, p := range c.plugins {
		n, err := p.PurgeFeed(ctx, feedURL)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Migrate imports the legacy store into the durable adapter. Auth entries
// are only migrated when they can be sealed with the secure storage key.
func (c *Client) Migrate(ctx context.Context) (map[string]*migration.Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if !c.cfg.Flags.IsEnabled(ctx, featureflags.Migration) {
		return nil, ErrMigrationDisabled
	}
	if c.cfg.Legacy == nil {
		return nil, ErrNoLegacyStore
	}

	plans := []migration.Plan{migration.QueryCachePlan(persister.ExtractMeta), migration.PreferencesPlan()}
	if c.sealer != nil {
		plans = append(plans, migration.AuthPlan(c.sealer))
	} else {
		c.logger.Warn("Skipping auth migration without a secure storage key", nil)
	}
	return migration.MigrateLegacy(ctx, c.cfg.Legacy, c.adapter, plans, c.logger)
}

// StorageInfo reports durable storage usage
func (c *Client) StorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	if err := c.checkOpen(); err != nil {
		return domain.StorageInfo{}, err
	}
	return c.adapter.StorageInfo(ctx)
}

// Clear drops every query, fetch result and persisted entry
func (c *Client) Clear(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	for _, q := range c.queries.Queries() {
		c.queries.Remove(q.Key)
	}
	c.Flush(ctx)
	c.cfg.Cache.Clear()
	return c.adapter.Clear(ctx)
}

// Flush writes every pending persistence update now
func (c *Client) Flush(ctx context.Context) {
	for _, p := range c.plugins {
		p.Flush(ctx)
	}
}

// Close flushes pending writes, stops the plugins and releases storage
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	for _, p := range c.plugins {
		p.Close(ctx)
	}
	if canceller, ok := c.cfg.HTTPClient.(interface{ CancelAll() int }); ok {
		canceller.CancelAll()
	}
	return c.adapter.Destroy()
}
