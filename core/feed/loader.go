// ABOUTME: Binds feed fetches into the reactive query cache
// ABOUTME: Serves fresh cached queries and writes network results as the single source of truth

package feed

import (
	"context"
	"time"

	"digests-reader/core/cachekey"
	"digests-reader/core/domain"
	"digests-reader/core/querycache"
)

// Restorer seeds a query from durable storage before it is fetched
type Restorer interface {
	RestoreKey(ctx context.Context, key domain.QueryKey) (bool, error)
}

// Loader reads feeds and reader views through the query cache
type Loader struct {
	svc      *FeedService
	cache    *querycache.Cache
	restorer Restorer

	// StaleTime is how long query data is served without refetching
	StaleTime time.Duration
}

// NewLoader creates a loader. restorer may be nil.
func NewLoader(svc *FeedService, cache *querycache.Cache, restorer Restorer, staleTime time.Duration) *Loader {
	return &Loader{svc: svc, cache: cache, restorer: restorer, StaleTime: staleTime}
}

// FeedsKey is the query key for a set of feed URLs
func FeedsKey(urls []string) domain.QueryKey {
	normalized := cachekey.SortedSet(cachekey.NormalizeAll(urls))
	return append(domain.QueryKey{"feeds"}, normalized...)
}

// ReaderViewKey is the query key for one article
func ReaderViewKey(articleURL string) domain.QueryKey {
	return domain.QueryKey{"readerView", cachekey.NormalizeURL(articleURL)}
}

// Feeds returns feeds for urls from the query cache when fresh, otherwise
// from the network. On failure the query keeps whatever it held.
func (l *Loader) Feeds(ctx context.Context, urls []string) ([]*domain.Feed, error) {
	key := FeedsKey(urls)
	if feeds, ok := cachedQuery[[]*domain.Feed](ctx, l, key); ok {
		return feeds, nil
	}

	feeds, err := l.svc.FetchFeeds(ctx, urls)
	if err != nil {
		return nil, err
	}
	l.cache.SetData(key, feeds)
	return feeds, nil
}

// Items returns one page of the merged, newest first timeline for urls
func (l *Loader) Items(ctx context.Context, urls []string, page, perPage int) ([]domain.FeedItem, error) {
	feeds, err := l.Feeds(ctx, urls)
	if err != nil {
		return nil, err
	}
	return PaginateItems(MergeItems(feeds), page, perPage), nil
}

// ReaderView returns the reader view for articleURL
func (l *Loader) ReaderView(ctx context.Context, articleURL string) (*domain.ReaderView, error) {
	key := ReaderViewKey(articleURL)
	if view, ok := cachedQuery[*domain.ReaderView](ctx, l, key); ok {
		return view, nil
	}

	view, err := l.svc.FetchReaderView(ctx, articleURL)
	if err != nil {
		return nil, err
	}
	l.cache.SetData(key, view)
	return view, nil
}

// cachedQuery registers key, restores it when a restorer is set and returns
// its data when it is still fresh
func cachedQuery[T any](ctx context.Context, l *Loader, key domain.QueryKey) (T, bool) {
	var zero T
	l.cache.Ensure(key)
	if l.restorer != nil {
		if _, err := l.restorer.RestoreKey(ctx, key); err != nil {
			l.svc.deps.Logger.Warn("Failed to restore persisted query", map[string]interface{}{
				"query": key.String(),
				"error": err.Error(),
			})
		}
	}

	q, ok := l.cache.Get(key)
	if !ok || !q.HasData || time.Since(q.UpdatedAt) > l.StaleTime {
		return zero, false
	}
	v, ok, err := querycache.Decode[T](q.Data)
	if err != nil || !ok {
		return zero, false
	}
	return v, true
}
