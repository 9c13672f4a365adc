package persister

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/querycache"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Throttle = 0
	opts.BatchInterval = time.Hour
	opts.BatchSize = 100
	return opts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func storedData(t *testing.T, p *Plugin, key domain.QueryKey) (json.RawMessage, bool) {
	t.Helper()
	rec, err := p.adapter.Get(context.Background(), p.StorageKey(key))
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if rec == nil {
		return nil, false
	}
	_, data, err := p.decode(rec)
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	return data, true
}

func TestPlugin_DebounceKeepsLastUpdate(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	opts := testOptions()
	opts.Throttle = 20 * time.Millisecond
	opts.BatchInterval = 5 * time.Millisecond
	p := New(cache, adapter, opts)
	defer p.Close(context.Background())

	key := domain.QueryKey{"feeds", "https://a.com/feed.xml"}
	cache.SetData(key, "v1")
	cache.SetData(key, "v2")
	cache.SetData(key, "v3")

	waitFor(t, func() bool {
		_, ok := storedData(t, p, key)
		return ok
	})

	data, _ := storedData(t, p, key)
	if string(data) != `"v3"` {
		t.Errorf("persisted %s, want \"v3\"", data)
	}
	if _, setMany := adapter.counts(); setMany != 1 {
		t.Errorf("SetMany calls = %d, want 1", setMany)
	}
}

func TestPlugin_FlushWritesPendingUpdates(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	opts := testOptions()
	opts.Throttle = time.Hour
	p := New(cache, adapter, opts)

	cache.SetData(domain.QueryKey{"feeds", "a"}, 1)
	cache.SetData(domain.QueryKey{"feeds", "b"}, 2)
	p.Flush(context.Background())

	if _, ok := storedData(t, p, domain.QueryKey{"feeds", "b"}); !ok {
		t.Error("Flush should write updates still inside their debounce window")
	}
	if _, setMany := adapter.counts(); setMany != 1 {
		t.Errorf("SetMany calls = %d, want 1", setMany)
	}
}

func TestPlugin_BatchSizeTriggersFlush(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	opts := testOptions()
	opts.BatchSize = 3
	p := New(cache, adapter, opts)
	defer p.Close(context.Background())

	for _, k := range []string{"a", "b", "c"} {
		cache.SetData(domain.QueryKey{"feeds", k}, k)
	}

	waitFor(t, func() bool {
		_, ok := storedData(t, p, domain.QueryKey{"feeds", "c"})
		return ok
	})
	if _, setMany := adapter.counts(); setMany != 1 {
		t.Errorf("SetMany calls = %d, want 1", setMany)
	}
}

func TestPlugin_BatchFailureFallsBackToSingleWrites(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	adapter.setManyFunc = func(ctx context.Context, records map[string]*domain.Record) error {
		return stderrors.New("transaction aborted")
	}
	p := New(cache, adapter, testOptions())

	cache.SetData(domain.QueryKey{"feeds", "a"}, 1)
	cache.SetData(domain.QueryKey{"feeds", "b"}, 2)
	p.Flush(context.Background())

	set, _ := adapter.counts()
	if set != 2 {
		t.Errorf("Set calls = %d, want 2", set)
	}
	if _, ok := storedData(t, p, domain.QueryKey{"feeds", "a"}); !ok {
		t.Error("entry should be written by the fallback")
	}
}

func TestPlugin_BatchErrorRetriesOnlyFailedEntries(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	p := New(cache, adapter, testOptions())
	failed := p.StorageKey(domain.QueryKey{"feeds", "b"})

	adapter.setManyFunc = func(ctx context.Context, records map[string]*domain.Record) error {
		batch := &errors.BatchError{Op: "setMany", Total: len(records)}
		for id, rec := range records {
			if id == failed {
				batch.Add(id, stderrors.New("busy"))
				continue
			}
			adapter.PersistenceAdapter.Set(ctx, rec)
		}
		return batch.ErrOrNil()
	}

	cache.SetData(domain.QueryKey{"feeds", "a"}, 1)
	cache.SetData(domain.QueryKey{"feeds", "b"}, 2)
	p.Flush(context.Background())

	if set, _ := adapter.counts(); set != 1 {
		t.Errorf("Set calls = %d, want 1", set)
	}
	if _, ok := storedData(t, p, domain.QueryKey{"feeds", "b"}); !ok {
		t.Error("failed entry should be retried individually")
	}
}

func TestPlugin_RemoveDeletesPersistedEntry(t *testing.T) {
	cache := querycache.New()
	p := New(cache, newMockAdapter(), testOptions())
	key := domain.QueryKey{"feeds", "a"}

	cache.SetData(key, 1)
	p.Flush(context.Background())
	cache.Remove(key)
	p.Flush(context.Background())

	if _, ok := storedData(t, p, key); ok {
		t.Error("removed query should be deleted from storage")
	}
}

func TestPlugin_BatchesCommitInDrainOrder(t *testing.T) {
	key := domain.QueryKey{"feeds", "https://a.com/feed.xml"}

	tests := []struct {
		name     string
		next     func(cache *querycache.Cache)
		wantData string
		wantGone bool
	}{
		{
			name:     "later update wins",
			next:     func(cache *querycache.Cache) { cache.SetData(key, "new") },
			wantData: `"new"`,
		},
		{
			name:     "remove wins over earlier write",
			next:     func(cache *querycache.Cache) { cache.Remove(key) },
			wantGone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := querycache.New()
			adapter := newMockAdapter()
			entered := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			adapter.setManyFunc = func(ctx context.Context, records map[string]*domain.Record) error {
				first := false
				once.Do(func() {
					first = true
					close(entered)
				})
				if first {
					<-release
				}
				return adapter.PersistenceAdapter.SetMany(ctx, records)
			}

			opts := testOptions()
			opts.BatchSize = 1
			p := New(cache, adapter, opts)
			defer p.Close(context.Background())

			cache.SetData(key, "old")
			select {
			case <-entered:
			case <-time.After(2 * time.Second):
				t.Fatal("first batch never reached the adapter")
			}

			tt.next(cache)
			close(release)
			p.Flush(context.Background())

			data, ok := storedData(t, p, key)
			if tt.wantGone {
				if ok {
					t.Errorf("entry still persisted as %s", data)
				}
				return
			}
			if string(data) != tt.wantData {
				t.Errorf("persisted %s, want %s", data, tt.wantData)
			}
		})
	}
}

func TestPlugin_RestoreKeyDropsUnreadableEntry(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	p := New(cache, adapter, testOptions())
	key := domain.QueryKey{"feeds", "a"}
	id := p.StorageKey(key)

	if err := adapter.Set(context.Background(), &domain.Record{Key: id, Value: []byte("{not json")}); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}

	restored, err := p.RestoreKey(context.Background(), key)
	if err != nil {
		t.Fatalf("RestoreKey returned error: %v", err)
	}
	if restored {
		t.Error("unreadable entry should not be restored")
	}
	if rec, _ := adapter.Get(context.Background(), id); rec != nil {
		t.Error("unreadable entry should be deleted")
	}
}

func TestPlugin_ShouldPersist(t *testing.T) {
	opts := testOptions()
	opts.Include = []string{"feeds:*", "article:*"}
	opts.Exclude = []string{"feeds:secret*"}
	p := New(querycache.New(), newMockAdapter(), opts)

	tests := []struct {
		key  domain.QueryKey
		want bool
	}{
		{domain.QueryKey{"feeds", "a"}, true},
		{domain.QueryKey{"article", "x"}, true},
		{domain.QueryKey{"feeds", "secret-token"}, false},
		{domain.QueryKey{"user", "42"}, false},
	}
	for _, tt := range tests {
		if got := p.ShouldPersist(tt.key); got != tt.want {
			t.Errorf("ShouldPersist(%v) = %v, want %v", tt.key, got, tt.want)
		}
	}

	everything := New(querycache.New(), newMockAdapter(), Options{Exclude: []string{"auth*"}})
	if !everything.ShouldPersist(domain.QueryKey{"user", "42"}) {
		t.Error("empty include list should persist everything not excluded")
	}
	if everything.ShouldPersist(domain.QueryKey{"auth", "token"}) {
		t.Error("exclude should win")
	}
}

func TestPlugin_ExcludedKeysAreNotWritten(t *testing.T) {
	cache := querycache.New()
	adapter := newMockAdapter()
	opts := testOptions()
	opts.Exclude = []string{"auth*"}
	p := New(cache, adapter, opts)

	cache.SetData(domain.QueryKey{"auth", "token"}, "secret")
	p.Flush(context.Background())

	if _, setMany := adapter.counts(); setMany != 0 {
		t.Errorf("SetMany calls = %d, want 0", setMany)
	}
}

func TestPlugin_RestoreNeverOverwritesFresherData(t *testing.T) {
	adapter := newMockAdapter()
	fresh := domain.QueryKey{"feeds", "fresh"}
	cold := domain.QueryKey{"feeds", "cold"}

	first := querycache.New()
	writer := New(first, adapter, testOptions())
	first.SetData(fresh, "stored")
	first.SetData(cold, []string{"a", "b"})
	writer.Close(context.Background())

	second := querycache.New()
	p := New(second, adapter, testOptions())
	second.Ensure(fresh)
	second.Ensure(cold)
	second.SetData(fresh, "network")

	seeded, err := p.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}
	if seeded != 1 {
		t.Errorf("seeded = %d, want 1", seeded)
	}
	if got, _ := second.GetData(fresh); got != "network" {
		t.Errorf("fresh query = %v, want network", got)
	}
	got, ok, err := querycache.DataAs[[]string](second, cold)
	if err != nil || !ok || len(got) != 2 {
		t.Errorf("cold query = %v, %v, %v", got, ok, err)
	}

	second.Remove(cold)
	second.Ensure(cold)
	p.Flush(context.Background())
	if again, _ := p.Restore(context.Background()); again != 0 {
		t.Errorf("second Restore seeded %d, want 0", again)
	}
}

func TestPlugin_RestoredDataIsNotRewritten(t *testing.T) {
	adapter := newMockAdapter()
	key := domain.QueryKey{"feeds", "a"}

	first := querycache.New()
	writer := New(first, adapter, testOptions())
	first.SetData(key, 1)
	writer.Close(context.Background())

	_, before := adapter.counts()
	second := querycache.New()
	p := New(second, adapter, testOptions())
	restored, err := p.RestoreKey(context.Background(), key)
	if err != nil || !restored {
		t.Fatalf("RestoreKey() = %v, %v", restored, err)
	}
	p.Flush(context.Background())

	if _, after := adapter.counts(); after != before {
		t.Errorf("SetMany calls went from %d to %d after restore", before, after)
	}
}

func TestPlugin_MaxAgeExpiresEntries(t *testing.T) {
	cache := querycache.New()
	opts := testOptions()
	opts.MaxAge = time.Minute
	p := New(cache, newMockAdapter(), opts)

	key := domain.QueryKey{"feeds", "a"}
	cache.SetData(key, 1)
	p.Flush(context.Background())

	rec, _ := p.adapter.Get(context.Background(), p.StorageKey(key))
	if rec == nil || rec.ExpiresAt == nil {
		t.Fatal("record should carry an expiry")
	}
	if d := time.Until(*rec.ExpiresAt); d <= 0 || d > time.Minute {
		t.Errorf("expiry in %v, want within a minute", d)
	}
}

func TestPlugin_PurgeFeed(t *testing.T) {
	cache := querycache.New()
	p := New(cache, newMockAdapter(), testOptions())

	cache.SetData(domain.QueryKey{"feeds", "https://a.com/feed.xml"}, 1)
	cache.SetData(domain.QueryKey{"feedItems", "https://A.com/feed.xml/", "page2"}, 2)
	cache.SetData(domain.QueryKey{"feeds", "https://b.com/feed.xml"}, 3)
	p.Flush(context.Background())

	n, err := p.PurgeFeed(context.Background(), "https://a.com/feed.xml")
	if err != nil {
		t.Fatalf("PurgeFeed returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	if _, ok := storedData(t, p, domain.QueryKey{"feeds", "https://b.com/feed.xml"}); !ok {
		t.Error("other feeds should be kept")
	}
}

func TestPlugin_SecureRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	serializer, err := NewAESGCMSerializer(key)
	if err != nil {
		t.Fatalf("NewAESGCMSerializer returned error: %v", err)
	}

	adapter := newMockAdapter()
	opts := testOptions()
	opts.Prefix = "secure:"
	opts.Serializer = serializer
	q := domain.QueryKey{"auth", "token"}

	first := querycache.New()
	writer := New(first, adapter, opts)
	first.SetData(q, map[string]string{"token": "s3cr3t"})
	writer.Close(context.Background())

	rec, _ := adapter.Get(context.Background(), writer.StorageKey(q))
	if rec == nil {
		t.Fatal("secure entry should be stored")
	}
	if json.Valid(rec.Value) && containsBytes(rec.Value, []byte("s3cr3t")) {
		t.Error("stored payload should not contain the plaintext")
	}

	second := querycache.New()
	p := New(second, adapter, opts)
	if ok, err := p.RestoreKey(context.Background(), q); err != nil || !ok {
		t.Fatalf("RestoreKey() = %v, %v", ok, err)
	}
	got, _, err := querycache.DataAs[map[string]string](second, q)
	if err != nil || got["token"] != "s3cr3t" {
		t.Errorf("restored %v, %v", got, err)
	}
}

func containsBytes(haystack, needle []byte) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}
