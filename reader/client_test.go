package reader

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"digests-reader/infrastructure/legacy/file"
	memstore "digests-reader/infrastructure/persistence/memory"
	"digests-reader/infrastructure/persistence/sqlite"
	"digests-reader/pkg/config"
	"digests-reader/pkg/featureflags"
)

// upstream fakes the parsing API and counts calls per endpoint
type upstream struct {
	server *httptest.Server
	parses atomic.Int32
	views  atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/parse", func(w http.ResponseWriter, r *http.Request) {
		u.parses.Add(1)
		var body struct {
			URLs []string `json:"urls"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		feeds := make([]map[string]interface{}, 0, len(body.URLs))
		for _, url := range body.URLs {
			feeds = append(feeds, map[string]interface{}{
				"status":    "ok",
				"feedUrl":   url,
				"feedTitle": "Feed " + url,
				"items": []map[string]interface{}{
					{"id": url + "#1", "title": "First", "link": url + "/1", "published": "2024-01-02T00:00:00Z"},
				},
			})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"feeds": feeds})
	})
	mux.HandleFunc("/getreaderview", func(w http.ResponseWriter, r *http.Request) {
		u.views.Add(1)
		var body struct {
			URLs []string `json:"urls"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		views := make([]map[string]interface{}, 0, len(body.URLs))
		for _, url := range body.URLs {
			views = append(views, map[string]interface{}{
				"url":     url,
				"status":  "ok",
				"title":   "Secret Title",
				"content": "<p>Body text</p>",
			})
		}
		json.NewEncoder(w).Encode(views)
	})
	u.server = httptest.NewServer(mux)
	t.Cleanup(u.server.Close)
	return u
}

func testSettings(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	os.Clearenv()
	settings, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	settings.Request.APIBaseURL = baseURL
	settings.Request.RetryAttempts = 1
	settings.Storage.Path = filepath.Join(t.TempDir(), "reader.db")
	settings.Persistence.Throttle = 10 * time.Millisecond
	settings.Persistence.SecureInclude = []string{"readerView*"}
	return settings
}

func testFlags(migration bool) featureflags.Manager {
	flags := featureflags.NewStaticManager(featureflags.Defaults)
	flags.SetEnabled(featureflags.Migration, migration)
	return flags
}

func newTestClient(t *testing.T, settings *config.Config, extra ...Option) *Client {
	t.Helper()
	opts := append([]Option{WithSettings(settings), WithQuietMode(), WithFlags(testFlags(false))}, extra...)
	c, err := NewClient(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_InvalidSettings(t *testing.T) {
	settings := testSettings(t, "http://localhost")
	settings.Storage.Backend = "floppy"

	_, err := NewClient(context.Background(), WithSettings(settings))
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewClient_InvalidSecureKey(t *testing.T) {
	settings := testSettings(t, "http://localhost")
	settings.Persistence.SecureKey = "abcd"

	_, err := NewClient(context.Background(), WithSettings(settings), WithQuietMode(), WithFlags(testFlags(false)))
	if !IsConfigurationError(err) {
		t.Fatalf("expected configuration error for a short key, got %v", err)
	}
}

func TestNewClient_FallsBackToMemory(t *testing.T) {
	settings := testSettings(t, "http://localhost")
	settings.Storage.Path = filepath.Join(t.TempDir(), "missing", "dir", "reader.db")

	c := newTestClient(t, settings)
	defer c.Close(context.Background())

	if _, ok := c.Adapter().(*memstore.Adapter); !ok {
		t.Fatalf("adapter = %T, want memory fallback", c.Adapter())
	}
}

func TestNewClient_UsesSQLite(t *testing.T) {
	c := newTestClient(t, testSettings(t, "http://localhost"))
	defer c.Close(context.Background())

	if _, ok := c.Adapter().(*sqlite.Adapter); !ok {
		t.Fatalf("adapter = %T, want sqlite", c.Adapter())
	}
}

func TestClient_FeedsRestoredAcrossClients(t *testing.T) {
	up := newUpstream(t)
	settings := testSettings(t, up.server.URL)
	ctx := context.Background()
	urls := []string{"https://example.com/feed.xml"}

	first := newTestClient(t, settings)
	feeds, err := first.Feeds(ctx, urls)
	if err != nil {
		t.Fatalf("Feeds() error = %v", err)
	}
	if len(feeds) != 1 || len(feeds[0].Items) != 1 {
		t.Fatalf("unexpected feeds: %+v", feeds)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second := newTestClient(t, settings)
	defer second.Close(ctx)

	items, err := second.Items(ctx, urls, 1, 10)
	if err != nil {
		t.Fatalf("Items() error = %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Items() returned %d items, want 1", len(items))
	}
	if got := up.parses.Load(); got != 1 {
		t.Errorf("upstream parsed %d times, want 1 (second client should restore)", got)
	}
}

func TestClient_SensitiveQueriesAreSealed(t *testing.T) {
	up := newUpstream(t)
	settings := testSettings(t, up.server.URL)
	settings.Persistence.SecureKey = strings.Repeat("ab", 32)
	ctx := context.Background()

	c := newTestClient(t, settings)
	defer c.Close(ctx)

	view, err := c.Article(ctx, "https://example.com/post")
	if err != nil {
		t.Fatalf("Article() error = %v", err)
	}
	if view.Title != "Secret Title" {
		t.Errorf("Title = %q", view.Title)
	}
	c.Flush(ctx)

	plain, _ := c.Adapter().Keys(ctx, queryPrefix+"*")
	if len(plain) != 0 {
		t.Errorf("reader view leaked into plain storage: %v", plain)
	}
	sealed, _ := c.Adapter().Keys(ctx, securePrefix+"*")
	if len(sealed) != 1 {
		t.Fatalf("secure keys = %v, want one", sealed)
	}
	rec, err := c.Adapter().Get(ctx, sealed[0])
	if err != nil || rec == nil {
		t.Fatalf("Get(%s) = %v, %v", sealed[0], rec, err)
	}
	if strings.Contains(string(rec.Value), "Secret Title") {
		t.Error("sealed entry should not contain plaintext")
	}
}

func TestClient_SensitiveQueriesStayInMemoryWithoutKey(t *testing.T) {
	up := newUpstream(t)
	settings := testSettings(t, up.server.URL)
	ctx := context.Background()

	c := newTestClient(t, settings)
	defer c.Close(ctx)

	if _, err := c.Article(ctx, "https://example.com/post"); err != nil {
		t.Fatalf("Article() error = %v", err)
	}
	c.Flush(ctx)

	keys, _ := c.Adapter().Keys(ctx, "*")
	if len(keys) != 0 {
		t.Errorf("nothing should be persisted without a key, got %v", keys)
	}
}

func TestClient_AddFeedsSeedsQueries(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()
	c := newTestClient(t, testSettings(t, up.server.URL))
	defer c.Close(ctx)

	result, err := c.AddFeeds(ctx, []string{"https://a.example/rss", "not a url"})
	if err != nil {
		t.Fatalf("AddFeeds() error = %v", err)
	}
	if result.SuccessfulCount != 1 || result.FailedCount != 1 {
		t.Fatalf("AddFeeds() = %d ok / %d failed, want 1/1", result.SuccessfulCount, result.FailedCount)
	}

	if _, err := c.Feeds(ctx, []string{"https://a.example/rss"}); err != nil {
		t.Fatalf("Feeds() error = %v", err)
	}
	if got := up.parses.Load(); got != 1 {
		t.Errorf("upstream parsed %d times, want 1", got)
	}
}

func TestClient_Migrate(t *testing.T) {
	settings := testSettings(t, "http://localhost")
	ctx := context.Background()

	legacy := file.NewStore(filepath.Join(t.TempDir(), "legacy.json"))
	legacy.Set(ctx, "digests-prefs:theme", `"dark"`)

	c, err := NewClient(ctx, WithSettings(settings), WithQuietMode(), WithFlags(testFlags(true)), WithLegacyStore(legacy))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer c.Close(ctx)

	results, err := c.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, ok := results["auth"]; ok {
		t.Error("auth plan should be skipped without a secure key")
	}
	if res := results["preferences"]; res == nil || res.Migrated != 1 {
		t.Fatalf("preferences result = %+v, want one migrated", res)
	}

	rec, err := c.Adapter().Get(ctx, "prefs:theme")
	if err != nil || rec == nil {
		t.Fatalf("migrated preference missing: %v", err)
	}
	if _, ok, _ := legacy.Get(ctx, "digests-prefs:theme"); ok {
		t.Error("legacy entry should be cleaned up after a verified run")
	}
}

func TestClient_MigrateGuards(t *testing.T) {
	ctx := context.Background()

	disabled := newTestClient(t, testSettings(t, "http://localhost"))
	defer disabled.Close(ctx)
	if _, err := disabled.Migrate(ctx); !stderrors.Is(err, ErrMigrationDisabled) {
		t.Errorf("Migrate() error = %v, want ErrMigrationDisabled", err)
	}

	noStore, err := NewClient(ctx, WithSettings(testSettings(t, "http://localhost")), WithQuietMode(), WithFlags(testFlags(true)))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer noStore.Close(ctx)
	if _, err := noStore.Migrate(ctx); !stderrors.Is(err, ErrNoLegacyStore) {
		t.Errorf("Migrate() error = %v, want ErrNoLegacyStore", err)
	}
}

func TestClient_ClearAndStorageInfo(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()
	c := newTestClient(t, testSettings(t, up.server.URL))
	defer c.Close(ctx)

	if _, err := c.Feeds(ctx, []string{"https://example.com/feed.xml"}); err != nil {
		t.Fatalf("Feeds() error = %v", err)
	}
	c.Flush(ctx)

	info, err := c.StorageInfo(ctx)
	if err != nil {
		t.Fatalf("StorageInfo() error = %v", err)
	}
	if info.Count != 1 || info.Used == 0 {
		t.Errorf("StorageInfo() = %+v, want one entry", info)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	info, _ = c.StorageInfo(ctx)
	if info.Count != 0 {
		t.Errorf("Count after Clear = %d, want 0", info.Count)
	}
	if len(c.Queries().Queries()) != 0 {
		t.Error("query cache should be empty after Clear")
	}
}

func TestClient_PersistenceDisabled(t *testing.T) {
	up := newUpstream(t)
	ctx := context.Background()
	flags := testFlags(false)
	flags.SetEnabled(featureflags.Persistence, false)

	c := newTestClient(t, testSettings(t, up.server.URL), WithFlags(flags))
	defer c.Close(ctx)

	if _, err := c.Feeds(ctx, []string{"https://example.com/feed.xml"}); err != nil {
		t.Fatalf("Feeds() error = %v", err)
	}
	c.Flush(ctx)

	keys, _ := c.Adapter().Keys(ctx, "*")
	if len(keys) != 0 {
		t.Errorf("persistence disabled but stored %v", keys)
	}
}

func TestClient_ClosedClientRejectsCalls(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, testSettings(t, "http://localhost"))

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := c.Feeds(ctx, []string{"https://example.com/feed.xml"}); !stderrors.Is(err, ErrClientClosed) {
		t.Errorf("Feeds() error = %v, want ErrClientClosed", err)
	}
}
