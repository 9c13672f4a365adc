package migration

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"digests-reader/core/domain"
)

type upperEncoder struct{}

func (upperEncoder) Encode(data any) (json.RawMessage, error) {
	raw := data.(json.RawMessage)
	return json.Marshal("sealed:" + strings.ToUpper(string(raw)))
}

func legacyStore() *mockSource {
	return newMockSource(map[string]string{
		LegacyQueryPrefix + "1": `{"queryKey":["feeds","https://a.com/feed.xml"],"state":{"data":[{"id":"f1"}],"dataUpdatedAt":1700000000000}}`,
		LegacyQueryPrefix + "2": `{"queryKey":["feeds","empty"],"state":{"data":null}}`,
		LegacyPrefsPrefix + "theme": `"dark"`,
		LegacyAuthPrefix + "token":  `"abc"`,
		"unrelated":                 "x",
	})
}

func TestMigrateLegacy_AllCategories(t *testing.T) {
	ctx := context.Background()
	source := legacyStore()
	target := newMockTarget()

	meta := func(k domain.QueryKey) domain.EntryMeta {
		return domain.EntryMeta{QueryType: domain.QueryTypeFeed}
	}
	results, err := MigrateLegacy(ctx, source, target, LegacyPlans(meta, upperEncoder{}), nil)
	if err != nil {
		t.Fatalf("MigrateLegacy returned error: %v", err)
	}

	if r := results["query-cache"]; r.Migrated != 1 || r.Skipped != 1 {
		t.Errorf("query-cache result = %+v", r)
	}
	if r := results["preferences"]; r.Migrated != 1 || !r.CleanedUp {
		t.Errorf("preferences result = %+v", r)
	}
	if r := results["auth"]; r.Migrated != 1 || !r.Verified || !r.CleanedUp {
		t.Errorf("auth result = %+v", r)
	}

	key := domain.QueryKey{"feeds", "https://a.com/feed.xml"}
	rec, _ := target.Get(ctx, QueryNamespace+key.Hash())
	if rec == nil {
		t.Fatal("query entry should be stored under its hashed key")
	}
	var entry domain.PersistedEntry
	if err := json.Unmarshal(rec.Value, &entry); err != nil {
		t.Fatalf("stored value is not a persisted entry: %v", err)
	}
	if string(entry.Data) != `[{"id":"f1"}]` || entry.DataUpdatedAt.UnixMilli() != 1700000000000 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Meta.QueryType != domain.QueryTypeFeed {
		t.Errorf("meta = %+v", entry.Meta)
	}

	prefs, _ := target.Get(ctx, PrefsNamespace+"theme")
	if prefs == nil || string(prefs.Value) != `"dark"` {
		t.Errorf("prefs entry = %+v", prefs)
	}

	auth, _ := target.Get(ctx, AuthNamespace+"auth:token")
	if auth == nil || string(auth.Value) != `"sealed:\"ABC\""` {
		t.Errorf("auth entry = %+v", auth)
	}

	left := source.snapshot()
	if _, ok := left["unrelated"]; !ok || len(left) != 2 {
		t.Errorf("source after migration = %v", left)
	}
}

func TestQueryCachePlan_InvalidEntryFails(t *testing.T) {
	source := newMockSource(map[string]string{
		LegacyQueryPrefix + "bad": `{"state":{}}`,
	})

	res, err := NewMigrator(source, newMockTarget(), nil).Migrate(context.Background(), QueryCachePlan(nil).Options)
	if err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}
	if res.Failed != 1 || res.CleanedUp {
		t.Errorf("result = %+v", res)
	}
}

func TestMigrateLegacy_StrictAuthStopsAndRollsBack(t *testing.T) {
	ctx := context.Background()
	source := legacyStore()
	source.Set(ctx, LegacyAuthPrefix+"refresh", `"r"`)
	target := newMockTarget()
	target.reject[AuthNamespace+"auth:refresh"] = true

	results, err := MigrateLegacy(ctx, source, target, LegacyPlans(nil, nil), nil)
	if err == nil {
		t.Fatal("auth failure should fail the legacy migration")
	}

	auth := results["auth"]
	if !auth.RolledBack {
		t.Errorf("auth result = %+v", auth)
	}
	if rec, _ := target.Get(ctx, AuthNamespace+"auth:token"); rec != nil {
		t.Error("auth entries should be rolled back")
	}
	left := source.snapshot()
	if left[LegacyAuthPrefix+"token"] != `"abc"` || left[LegacyAuthPrefix+"refresh"] != `"r"` {
		t.Errorf("auth sources should be intact, got %v", left)
	}
}
