// ABOUTME: In-process persistence adapter with the durable store's expiry and quota rules
// ABOUTME: Serves tests and the degraded mode used when the embedded database is unavailable

package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/logger/standard"
	"digests-reader/infrastructure/persistence"
	"digests-reader/pkg/utils/pattern"
)

var _ interfaces.PersistenceAdapter = (*Adapter)(nil)

// Adapter implements interfaces.PersistenceAdapter over a guarded map
type Adapter struct {
	mu      sync.Mutex
	records map[string]*domain.Record
	used    int64
	opts    persistence.Options

	stop     chan struct{}
	stopOnce sync.Once
}

// NewAdapter creates an empty adapter and starts maintenance when configured
func NewAdapter(opts persistence.Options) *Adapter {
	if opts.Logger == nil {
		opts.Logger = standard.NewNopLogger()
	}
	a := &Adapter{
		records: make(map[string]*domain.Record),
		opts:    opts,
		stop:    make(chan struct{}),
	}
	if opts.MaintenanceInterval > 0 {
		go persistence.MaintenanceLoop(opts.MaintenanceInterval, a.stop, a.maintain)
	}
	return a
}

// Get returns a copy of the record under key
func (a *Adapter) Get(ctx context.Context, key string) (*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getLocked(key), nil
}

func (a *Adapter) getLocked(key string) *domain.Record {
	rec, ok := a.records[key]
	if !ok {
		return nil
	}
	if rec.Expired(time.Now()) {
		a.removeLocked(key)
		return nil
	}
	if !json.Valid(rec.Value) {
		a.opts.Logger.Warn("Dropping corrupted entry", map[string]interface{}{"key": key})
		a.removeLocked(key)
		return nil
	}
	return cloneRecord(rec)
}

// Set stores rec, cleaning up once when the quota would be exceeded
func (a *Adapter) Set(ctx context.Context, rec *domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec == nil || rec.Key == "" {
		return &errors.ValidationError{Field: "key", Message: "record key cannot be empty"}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.setLocked(rec)
}

func (a *Adapter) setLocked(rec *domain.Record) error {
	if a.fitsLocked(rec) {
		a.putLocked(rec)
		return nil
	}

	removed := a.cleanupLocked(true)
	a.opts.Logger.Warn("Storage quota reached, cleaned up before retrying write", map[string]interface{}{
		"key":     rec.Key,
		"removed": removed,
	})

	if !a.fitsLocked(rec) {
		return errors.NewStorageError(errors.ErrQuotaExceeded, "set", rec.Key, nil)
	}
	a.putLocked(rec)
	return nil
}

func (a *Adapter) fitsLocked(rec *domain.Record) bool {
	if a.opts.Quota <= 0 {
		return true
	}
	used := a.used + rec.Size()
	if existing, ok := a.records[rec.Key]; ok {
		used -= existing.Size()
	}
	return used <= a.opts.Quota
}

func (a *Adapter) putLocked(rec *domain.Record) {
	if existing, ok := a.records[rec.Key]; ok {
		a.used -= existing.Size()
	}
	a.records[rec.Key] = cloneRecord(rec)
	a.used += rec.Size()
}

func (a *Adapter) removeLocked(key string) {
	if existing, ok := a.records[key]; ok {
		a.used -= existing.Size()
		delete(a.records, key)
	}
}

// Delete removes key
func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(key)
	return nil
}

// Clear removes every record
func (a *Adapter) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]*domain.Record)
	a.used = 0
	return nil
}

// GetMany returns every live record among keys
func (a *Adapter) GetMany(ctx context.Context, keys []string) (map[string]*domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]*domain.Record, len(keys))
	for _, k := range keys {
		if rec := a.getLocked(k); rec != nil {
			out[k] = rec
		}
	}
	return out, nil
}

// SetMany stores every record it can and reports the rest
func (a *Adapter) SetMany(ctx context.Context, records map[string]*domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	batch := &errors.BatchError{Op: "setMany", Total: len(records)}
	for key, rec := range records {
		if rec == nil {
			batch.Add(key, &errors.ValidationError{Field: "record", Message: "nil record"})
			continue
		}
		r := *rec
		r.Key = key
		if err := a.setLocked(&r); err != nil {
			a.opts.Logger.Error("Failed to store entry in batch", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			batch.Add(key, err)
		}
	}
	return batch.ErrOrNil()
}

// DeleteMany removes every key
func (a *Adapter) DeleteMany(ctx context.Context, keys []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		a.removeLocked(k)
	}
	return nil
}

// Keys lists live keys matching pattern, sorted
func (a *Adapter) Keys(ctx context.Context, pat string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(a.records))
	for k, rec := range a.records {
		if rec.Expired(now) {
			continue
		}
		if pattern.Match(pat, k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// StorageInfo reports usage against the quota
func (a *Adapter) StorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	if err := ctx.Err(); err != nil {
		return domain.StorageInfo{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	info := domain.StorageInfo{Used: a.used, Quota: a.opts.Quota, Count: len(a.records)}
	for _, rec := range a.records {
		if info.OldestEntry.IsZero() || rec.UpdatedAt.Before(info.OldestEntry) {
			info.OldestEntry = rec.UpdatedAt
		}
	}
	return info, nil
}

// Cleanup removes expired records and, when evict is set, the oldest share
// of what remains. It returns the number of records removed.
func (a *Adapter) Cleanup(evict bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cleanupLocked(evict)
}

func (a *Adapter) cleanupLocked(evict bool) int {
	now := time.Now()
	removed := 0
	for k, rec := range a.records {
		if rec.Expired(now) {
			a.removeLocked(k)
			removed++
		}
	}
	if !evict || len(a.records) == 0 {
		return removed
	}

	live := make([]*domain.Record, 0, len(a.records))
	for _, rec := range a.records {
		live = append(live, rec)
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].UpdatedAt.Before(live[j].UpdatedAt)
	})
	for _, rec := range live[:persistence.EvictCount(len(live))] {
		a.removeLocked(rec.Key)
		removed++
	}
	return removed
}

// maintain runs a cleanup pass when usage is over threshold or entries expired
func (a *Adapter) maintain() {
	a.mu.Lock()
	defer a.mu.Unlock()

	overThreshold := a.opts.Quota > 0 &&
		float64(a.used)/float64(a.opts.Quota)*100 >= a.opts.CleanupThreshold

	now := time.Now()
	hasExpired := false
	for _, rec := range a.records {
		if rec.Expired(now) {
			hasExpired = true
			break
		}
	}
	if !overThreshold && !hasExpired {
		return
	}

	removed := a.cleanupLocked(overThreshold)
	a.opts.Logger.Debug("Maintenance cleanup finished", map[string]interface{}{
		"removed": removed,
	})
}

// Destroy stops background maintenance and drops every record
func (a *Adapter) Destroy() error {
	a.stopOnce.Do(func() { close(a.stop) })
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = make(map[string]*domain.Record)
	a.used = 0
	return nil
}

func cloneRecord(rec *domain.Record) *domain.Record {
	c := *rec
	c.Value = append(json.RawMessage(nil), rec.Value...)
	if rec.ExpiresAt != nil {
		exp := *rec.ExpiresAt
		c.ExpiresAt = &exp
	}
	c.Meta.Tags = append([]string(nil), rec.Meta.Tags...)
	return &c
}

// Len returns the number of stored records, expired ones included
func (a *Adapter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
