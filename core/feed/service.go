// ABOUTME: Feed-fetch provider backed by the upstream parsing API
// ABOUTME: Normalizes and caches feed fetches, adds feeds in bulk and fetches reader views

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"digests-reader/core/cachekey"
	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/pkg/utils/html"
)

const (
	feedsKeyPrefix  = "feeds"
	readerKeyPrefix = "readerview"
)

// Options configures a Service
type Options struct {
	// BaseURL is the upstream API root, e.g. https://api.digests.app
	BaseURL string

	// CacheTTL is how long fetch results stay in the memory cache
	CacheTTL time.Duration

	// Concurrency bounds parallel per-URL fetches in AddFeeds
	Concurrency int
}

// FeedService fetches feeds and reader views from the parsing API
type FeedService struct {
	deps interfaces.Dependencies
	opts Options
}

// NewFeedService creates a new feed service instance
func NewFeedService(deps interfaces.Dependencies, opts Options) *FeedService {
	if deps.Logger == nil {
		deps.Logger = interfaces.NopLogger{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &FeedService{deps: deps, opts: opts}
}

// validateURLs normalizes and deduplicates urls and rejects anything that
// is not an absolute http(s) URL
func validateURLs(urls []string) ([]string, error) {
	normalized := cachekey.NormalizeAll(urls)
	if len(normalized) == 0 {
		return nil, &errors.ValidationError{Field: "urls", Message: "at least one URL is required"}
	}
	for _, u := range normalized {
		if err := validateURL(u); err != nil {
			return nil, err
		}
	}
	return normalized, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &errors.ValidationError{Field: "url", Message: "invalid URL: " + raw}
	}
	return nil
}

// FetchFeeds returns the parsed feeds for urls. Equivalent URLs collapse to
// one feed and one cache key; a cached result within the TTL avoids the
// network entirely. Results are only cached when every feed parsed and
// at least one came back.
func (s *FeedService) FetchFeeds(ctx context.Context, urls []string) ([]*domain.Feed, error) {
	normalized, err := validateURLs(urls)
	if err != nil {
		return nil, err
	}

	key := cachekey.BuildKey(feedsKeyPrefix, normalized)
	if feeds, ok := s.cachedFeeds(key); ok {
		s.deps.Logger.Debug("Feed cache hit", map[string]interface{}{
			"key":   key,
			"feeds": len(feeds),
		})
		return feeds, nil
	}

	feeds, failures, err := s.parse(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if len(failures) > 0 {
		for u, ferr := range failures {
			s.deps.Logger.Warn("Upstream failed to parse feed", map[string]interface{}{
				"url":   u,
				"error": ferr.Error(),
			})
		}
		if len(feeds) == 0 {
			for _, ferr := range failures {
				return nil, ferr
			}
		}
		return feeds, nil
	}

	if s.deps.Cache != nil && len(feeds) > 0 {
		s.deps.Cache.Set(key, feeds, s.opts.CacheTTL)
	}
	return feeds, nil
}

func (s *FeedService) cachedFeeds(key string) ([]*domain.Feed, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	v, ok := s.deps.Cache.Get(key)
	if !ok {
		return nil, false
	}
	feeds, ok := v.([]*domain.Feed)
	return feeds, ok
}

// parse calls POST /parse and splits the answer into parsed feeds and
// per-URL upstream failures
func (s *FeedService) parse(ctx context.Context, urls []string) ([]*domain.Feed, map[string]error, error) {
	var resp parseResponse
	if err := s.post(ctx, "/parse", urls, &resp); err != nil {
		return nil, nil, err
	}

	feeds := make([]*domain.Feed, 0, len(resp.Feeds))
	failures := make(map[string]error)
	for i := range resp.Feeds {
		uf := &resp.Feeds[i]
		requested := uf.FeedURL
		if requested == "" && i < len(urls) {
			requested = urls[i]
		}
		if !uf.ok() {
			msg := uf.Error
			if msg == "" {
				msg = "status " + uf.Status
			}
			failures[requested] = &errors.RequestError{
				Code: errors.CodeUpstream, Method: http.MethodPost, URL: requested, Message: msg,
			}
			continue
		}
		feeds = append(feeds, uf.toDomain(requested))
	}
	return feeds, failures, nil
}

func (s *FeedService) post(ctx context.Context, path string, urls []string, out any) error {
	if s.deps.HTTPClient == nil {
		return fmt.Errorf("HTTP client not configured")
	}

	body, err := json.Marshal(urlsRequest{URLs: urls})
	if err != nil {
		return err
	}
	resp, err := s.deps.HTTPClient.Do(ctx, interfaces.Request{
		Method: http.MethodPost,
		URL:    s.opts.BaseURL + path,
		Body:   body,
	})
	if err != nil {
		return err
	}
	if err := resp.Decode(out); err != nil {
		return &errors.RequestError{
			Code: errors.CodeUpstream, Method: http.MethodPost, URL: s.opts.BaseURL + path,
			Message: "invalid response body", Cause: err,
		}
	}
	return nil
}

// AddFeeds fetches each URL on its own so one bad URL never fails the
// batch. Results keep the input order.
func (s *FeedService) AddFeeds(ctx context.Context, urls []string) *domain.AddFeedsResult {
	type outcome struct {
		feed *domain.Feed
		err  error
	}
	outcomes := make([]outcome, len(urls))

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			if err := validateURL(cachekey.NormalizeURL(u)); err != nil {
				outcomes[i].err = err
				return nil
			}
			feeds, err := s.FetchFeeds(ctx, []string{u})
			switch {
			case err != nil:
				outcomes[i].err = err
			case len(feeds) == 0:
				outcomes[i].err = &errors.NotFoundError{Resource: "feed", ID: u}
			default:
				outcomes[i].feed = feeds[0]
			}
			return nil
		})
	}
	g.Wait()

	result := &domain.AddFeedsResult{}
	for i, o := range outcomes {
		if o.err != nil {
			if !errors.IsCancelled(o.err) {
				s.deps.Logger.Warn("Failed to add feed", map[string]interface{}{
					"url":   urls[i],
					"error": o.err.Error(),
				})
			}
			result.AddFailure(urls[i], o.err)
			continue
		}
		result.AddSuccess(o.feed)
	}
	return result
}

// FetchReaderView returns the reader view for one article URL. A view the
// upstream could not extract is an error and is never cached.
func (s *FeedService) FetchReaderView(ctx context.Context, articleURL string) (*domain.ReaderView, error) {
	views, err := s.FetchReaderViews(ctx, []string{articleURL})
	if err != nil {
		return nil, err
	}
	v := views[0]
	if !v.OK() {
		msg := v.Error
		if msg == "" {
			msg = "reader view status " + v.Status
		}
		return nil, &errors.RequestError{
			Code: errors.CodeUpstream, Method: http.MethodPost, URL: v.URL, Message: msg,
		}
	}
	return v, nil
}

// FetchReaderViews returns one view per distinct URL. Successful views are
// cached individually; failed ones are returned with their status but not
// cached.
func (s *FeedService) FetchReaderViews(ctx context.Context, urls []string) ([]*domain.ReaderView, error) {
	normalized, err := validateURLs(urls)
	if err != nil {
		return nil, err
	}

	views := make([]*domain.ReaderView, len(normalized))
	var missing []string
	for i, u := range normalized {
		if v, ok := s.cachedView(u); ok {
			views[i] = v
			continue
		}
		missing = append(missing, u)
	}
	if len(missing) == 0 {
		return views, nil
	}

	var fetched []domain.ReaderView
	if err := s.post(ctx, "/getreaderview", missing, &fetched); err != nil {
		return nil, err
	}

	byURL := make(map[string]*domain.ReaderView, len(fetched))
	for i := range fetched {
		v := &fetched[i]
		if v.TextContent == "" && v.Content != "" {
			v.TextContent = html.StripHTML(v.Content)
		}
		if v.Image == "" && v.Content != "" {
			v.Image = html.FirstImage(v.Content)
		}
		byURL[cachekey.NormalizeURL(v.URL)] = v
	}

	for i, u := range normalized {
		if views[i] != nil {
			continue
		}
		v, ok := byURL[u]
		if !ok {
			v = &domain.ReaderView{URL: u, Status: "error", Error: "no view returned"}
		}
		if v.OK() && s.deps.Cache != nil {
			s.deps.Cache.Set(cachekey.BuildKey(readerKeyPrefix, []string{u}), v, s.opts.CacheTTL)
		}
		views[i] = v
	}
	return views, nil
}

func (s *FeedService) cachedView(u string) (*domain.ReaderView, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	v, ok := s.deps.Cache.Get(cachekey.BuildKey(readerKeyPrefix, []string{u}))
	if !ok {
		return nil, false
	}
	view, ok := v.(*domain.ReaderView)
	return view, ok
}
