// ABOUTME: Category plans for the three legacy namespaces and the combined legacy run
// ABOUTME: Query cache entries become restorable persisted queries; auth migrates strictly

package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"digests-reader/core/domain"
	"digests-reader/core/interfaces"
	timeutil "digests-reader/pkg/utils/time"
)

// Legacy key prefixes per category
const (
	LegacyQueryPrefix = "digests-query:"
	LegacyPrefsPrefix = "digests-prefs:"
	LegacyAuthPrefix  = "digests-auth:"
)

// Target namespaces
const (
	QueryNamespace = "query:"
	PrefsNamespace = "prefs:"
	AuthNamespace  = "secure:"
)

// Encoder seals a value before it is written, e.g. an AES-GCM serializer
type Encoder interface {
	Encode(data any) (json.RawMessage, error)
}

// Plan is a named migration run
type Plan struct {
	Name    string
	Options Options
}

// legacyQuery is the dehydrated shape legacy query cache entries were saved in
type legacyQuery struct {
	QueryKey []string `json:"queryKey"`
	State    struct {
		Data          json.RawMessage `json:"data"`
		DataUpdatedAt int64           `json:"dataUpdatedAt"`
	} `json:"state"`
}

// QueryCachePlan converts legacy query cache entries into persisted queries
// stored where the persistence plugin restores them from. metaFn tags each
// query; nil leaves metadata empty.
func QueryCachePlan(metaFn func(domain.QueryKey) domain.EntryMeta) Plan {
	opts := DefaultOptions()
	opts.Prefixes = []string{LegacyQueryPrefix}
	opts.Cleanup = true
	opts.Transform = func(item *Item) error {
		var legacy legacyQuery
		if err := json.Unmarshal(item.Value, &legacy); err != nil {
			return fmt.Errorf("invalid legacy query entry: %w", err)
		}
		if len(legacy.QueryKey) == 0 {
			return fmt.Errorf("legacy query entry has no query key")
		}
		if len(legacy.State.Data) == 0 || string(legacy.State.Data) == "null" {
			item.Skip = true
			return nil
		}

		key := domain.QueryKey(legacy.QueryKey)
		updatedAt := timeutil.FromEpoch(legacy.State.DataUpdatedAt)
		if updatedAt.IsZero() {
			updatedAt = time.Now()
		}
		entry := domain.PersistedEntry{
			Key:           key,
			Data:          legacy.State.Data,
			DataUpdatedAt: updatedAt,
		}
		if metaFn != nil {
			entry.Meta = metaFn(key)
		}

		value, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		item.TargetKey = QueryNamespace + key.Hash()
		item.Value = value
		item.Meta = entry.Meta
		return nil
	}
	return Plan{Name: "query-cache", Options: opts}
}

// PreferencesPlan moves preference entries into their own namespace
func PreferencesPlan() Plan {
	opts := DefaultOptions()
	opts.Prefixes = []string{LegacyPrefsPrefix}
	opts.TargetPrefix = PrefsNamespace
	opts.StripPrefix = true
	opts.Cleanup = true
	opts.Transform = func(item *Item) error {
		item.Meta = domain.EntryMeta{QueryType: domain.QueryTypeUser, Tags: []string{"preferences"}}
		return nil
	}
	return Plan{Name: "preferences", Options: opts}
}

// AuthPlan migrates authentication entries strictly: the first failure
// halts and rolls back, every key is verified, and the legacy entries are
// only deleted after a clean, verified run. A non-nil enc seals each value.
func AuthPlan(enc Encoder) Plan {
	opts := DefaultOptions()
	opts.Prefixes = []string{LegacyAuthPrefix}
	opts.TargetPrefix = AuthNamespace + "auth:"
	opts.StripPrefix = true
	opts.ContinueOnError = false
	opts.Backup = true
	opts.VerifySample = 0
	opts.Cleanup = true
	opts.Transform = func(item *Item) error {
		item.Meta = domain.EntryMeta{QueryType: domain.QueryTypeUser, Tags: []string{"auth"}}
		if enc == nil {
			return nil
		}
		sealed, err := enc.Encode(item.Value)
		if err != nil {
			return fmt.Errorf("failed to seal auth entry: %w", err)
		}
		item.Value = sealed
		return nil
	}
	return Plan{Name: "auth", Options: opts}
}

// LegacyPlans returns the query cache, preferences and auth plans in the
// order they should run
func LegacyPlans(metaFn func(domain.QueryKey) domain.EntryMeta, enc Encoder) []Plan {
	return []Plan{QueryCachePlan(metaFn), PreferencesPlan(), AuthPlan(enc)}
}

// MigrateLegacy runs plans in order and stops at the first plan that fails
func MigrateLegacy(ctx context.Context, source interfaces.LegacyStore, target interfaces.PersistenceAdapter, plans []Plan, logger interfaces.Logger) (map[string]*Result, error) {
	m := NewMigrator(source, target, logger)
	results := make(map[string]*Result, len(plans))

	for _, plan := range plans {
		res, err := m.Migrate(ctx, plan.Options)
		results[plan.Name] = res
		if err != nil {
			return results, fmt.Errorf("%s migration: %w", plan.Name, err)
		}
		m.logger.Info("Legacy category migrated", map[string]interface{}{
			"category": plan.Name,
			"migrated": res.Migrated,
			"failed":   res.Failed,
			"skipped":  res.Skipped,
		})
	}
	return results, nil
}
