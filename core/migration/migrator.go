// ABOUTME: One-time migration of legacy flat key/value entries into durable storage
// ABOUTME: Runs discover, backup, batched migrate, verify and cleanup with rollback on failure

package migration

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/pkg/utils/pattern"
)

// Item is one legacy entry on its way into the target store. A transform
// may rename it, replace its value, tag its metadata or skip it.
type Item struct {
	SourceKey string
	TargetKey string
	Value     json.RawMessage
	Meta      domain.EntryMeta
	Skip      bool
}

// Transform adjusts an item before it is written
type Transform func(item *Item) error

// Progress is reported after every batch
type Progress struct {
	Batch     int
	Batches   int
	Processed int
	Total     int
}

// Options configures a migration run
type Options struct {
	// Prefixes and Pattern select source keys; a key is migrated when it
	// has any of the prefixes or matches the pattern
	Prefixes []string
	Pattern  string

	// TargetPrefix is prepended to the target key
	TargetPrefix string

	// StripPrefix removes the matched source prefix from the target key
	StripPrefix bool

	BatchSize int

	// Backup snapshots the selected source entries so a failed run can be
	// rolled back
	Backup bool

	// VerifySample is how many migrated keys are checked in the target;
	// zero or less checks every key
	VerifySample int

	// Cleanup deletes migrated source entries, only after a run with no
	// failures that verified
	Cleanup bool

	// ContinueOnError records per-item failures and carries on; otherwise
	// the first failure halts the run
	ContinueOnError bool

	// TTL expires migrated entries; zero keeps them
	TTL time.Duration

	Transform  Transform
	OnProgress func(Progress)
	Logger     interfaces.Logger
}

// DefaultOptions returns batches of 50 with backup, a 10 key verification
// sample and continue-on-error
func DefaultOptions() Options {
	return Options{
		BatchSize:       50,
		Backup:          true,
		VerifySample:    10,
		ContinueOnError: true,
	}
}

// ItemError is a per-key failure
type ItemError struct {
	Key string
	Err error
}

func (e ItemError) Error() string {
	return e.Key + ": " + e.Err.Error()
}

// Result summarizes a migration run
type Result struct {
	RunID        string
	Discovered   int
	Migrated     int
	Failed       int
	Skipped      int
	Duration     time.Duration
	Errors       []ItemError
	Verified     bool
	CleanedUp    bool
	RolledBack   bool
	MigratedKeys []string
	SkippedKeys  []string
}

// FailedKeys lists the keys recorded as failures
func (r *Result) FailedKeys() []string {
	keys := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		keys[i] = e.Key
	}
	return keys
}

// ErrHalted is returned when a failure stops a run that does not continue on error
var ErrHalted = stderrors.New("migration halted")

// Migrator moves entries from a legacy store into a persistence adapter
type Migrator struct {
	source interfaces.LegacyStore
	target interfaces.PersistenceAdapter
	logger interfaces.Logger
}

// NewMigrator creates a migrator between source and target
func NewMigrator(source interfaces.LegacyStore, target interfaces.PersistenceAdapter, logger interfaces.Logger) *Migrator {
	if logger == nil {
		logger = interfaces.NopLogger{}
	}
	return &Migrator{source: source, target: target, logger: logger}
}

// run holds the state of one Migrate call
type run struct {
	*Migrator
	opts    Options
	result  *Result
	backup  map[string]string
	written []string
}

// Migrate executes one run. On a halting failure or a panic, a run that took
// a backup deletes what it wrote and restores the source entries.
func (m *Migrator) Migrate(ctx context.Context, opts Options) (result *Result, err error) {
	if opts.BatchSize < 1 {
		opts.BatchSize = 50
	}
	if opts.Logger != nil {
		m = &Migrator{source: m.source, target: m.target, logger: opts.Logger}
	}

	start := time.Now()
	r := &run{
		Migrator: m,
		opts:     opts,
		result:   &Result{RunID: uuid.New().String()},
	}
	result = r.result

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("migration panicked: %v", p)
		}
		if err != nil && r.backup != nil {
			r.rollback(ctx)
		}
		result.Duration = time.Since(start)

		fields := map[string]interface{}{
			"run_id":      result.RunID,
			"migrated":    result.Migrated,
			"failed":      result.Failed,
			"skipped":     result.Skipped,
			"verified":    result.Verified,
			"rolled_back": result.RolledBack,
			"duration_ms": result.Duration.Milliseconds(),
		}
		if err != nil {
			fields["error"] = err.Error()
			m.logger.Error("Migration failed", fields)
		} else {
			m.logger.Info("Migration finished", fields)
		}
	}()

	keys, err := r.discover(ctx)
	if err != nil {
		return result, err
	}
	result.Discovered = len(keys)
	if len(keys) == 0 {
		result.Verified = true
		return result, nil
	}

	if opts.Backup {
		if err := r.takeBackup(ctx, keys); err != nil {
			return result, err
		}
	}

	if err := r.migrate(ctx, keys); err != nil {
		return result, err
	}

	result.Verified = r.verify(ctx)

	if opts.Cleanup && result.Failed == 0 && result.Verified {
		if err := r.cleanup(ctx); err != nil {
			return result, err
		}
		result.CleanedUp = true
	}
	return result, nil
}

func (r *run) discover(ctx context.Context) ([]string, error) {
	all, err := r.source.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy keys: %w", err)
	}

	var keys []string
	for _, k := range all {
		if r.selects(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *run) selects(key string) bool {
	if len(r.opts.Prefixes) == 0 && r.opts.Pattern == "" {
		return true
	}
	for _, p := range r.opts.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return r.opts.Pattern != "" && pattern.Match(r.opts.Pattern, key)
}

func (r *run) takeBackup(ctx context.Context, keys []string) error {
	r.backup = make(map[string]string, len(keys))
	for _, k := range keys {
		v, ok, err := r.source.Get(ctx, k)
		if err != nil {
			r.backup = nil
			return fmt.Errorf("failed to back up %s: %w", k, err)
		}
		if ok {
			r.backup[k] = v
		}
	}
	return nil
}

func (r *run) migrate(ctx context.Context, keys []string) error {
	batches := (len(keys) + r.opts.BatchSize - 1) / r.opts.BatchSize
	processed := 0

	for b := 0; b < batches; b++ {
		end := (b + 1) * r.opts.BatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[b*r.opts.BatchSize : end]

		if err := r.migrateBatch(ctx, batch); err != nil {
			return err
		}

		processed += len(batch)
		if r.opts.OnProgress != nil {
			r.opts.OnProgress(Progress{Batch: b + 1, Batches: batches, Processed: processed, Total: len(keys)})
		}
	}
	return nil
}

func (r *run) migrateBatch(ctx context.Context, keys []string) error {
	records := make(map[string]*domain.Record, len(keys))
	sourceOf := make(map[string]string, len(keys))

	for _, k := range keys {
		item, err := r.prepare(ctx, k)
		if err != nil {
			if herr := r.fail(k, err); herr != nil {
				return herr
			}
			continue
		}
		if item == nil || item.Skip {
			r.result.Skipped++
			r.result.SkippedKeys = append(r.result.SkippedKeys, k)
			continue
		}

		if _, dup := records[item.TargetKey]; dup {
			if herr := r.fail(k, fmt.Errorf("target key %s already used in this batch", item.TargetKey)); herr != nil {
				return herr
			}
			continue
		}

		rec := domain.NewRecord(item.TargetKey, item.Value, r.opts.TTL)
		rec.Meta = item.Meta
		records[item.TargetKey] = rec
		sourceOf[item.TargetKey] = k
	}

	if len(records) == 0 {
		return nil
	}

	err := r.target.SetMany(ctx, records)
	var batchErr *errors.BatchError
	switch {
	case err == nil:
	case stderrors.As(err, &batchErr):
	default:
		batchErr = &errors.BatchError{Op: "setMany", Total: len(records)}
		for target := range records {
			batchErr.Add(target, err)
		}
	}

	targets := make([]string, 0, len(records))
	for target := range records {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	var halt error
	for _, target := range targets {
		if batchErr != nil {
			if itemErr, failed := batchErr.Errors[target]; failed {
				if herr := r.fail(sourceOf[target], itemErr); herr != nil && halt == nil {
					halt = herr
				}
				continue
			}
		}
		r.written = append(r.written, target)
		r.result.Migrated++
		r.result.MigratedKeys = append(r.result.MigratedKeys, sourceOf[target])
	}
	return halt
}

// prepare reads a source entry and runs the transform. A nil item means the
// entry vanished from the source.
func (r *run) prepare(ctx context.Context, key string) (*Item, error) {
	value, ok, err := r.source.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	item := &Item{
		SourceKey: key,
		TargetKey: r.targetKey(key),
		Value:     toJSON(value),
	}
	if r.opts.Transform != nil {
		if err := r.opts.Transform(item); err != nil {
			return nil, err
		}
	}
	if item.TargetKey == "" {
		return nil, stderrors.New("transform produced an empty target key")
	}
	return item, nil
}

func (r *run) targetKey(key string) string {
	if r.opts.StripPrefix {
		for _, p := range r.opts.Prefixes {
			if strings.HasPrefix(key, p) {
				key = strings.TrimPrefix(key, p)
				break
			}
		}
	}
	return r.opts.TargetPrefix + key
}

// fail records a per-item failure and returns a halting error when the run
// does not continue on error
func (r *run) fail(key string, err error) error {
	r.result.Failed++
	r.result.Errors = append(r.result.Errors, ItemError{Key: key, Err: err})
	r.logger.Warn("Failed to migrate legacy entry", map[string]interface{}{
		"run_id": r.result.RunID,
		"key":    key,
		"error":  err.Error(),
	})
	if r.opts.ContinueOnError {
		return nil
	}
	return fmt.Errorf("%w at %s: %v", ErrHalted, key, err)
}

// verify checks an evenly spaced sample of written keys in the target
func (r *run) verify(ctx context.Context) bool {
	if len(r.written) == 0 {
		return r.result.Failed == 0
	}

	sample := r.written
	if n := r.opts.VerifySample; n > 0 && n < len(r.written) {
		sample = make([]string, 0, n)
		step := float64(len(r.written)) / float64(n)
		for i := 0; i < n; i++ {
			sample = append(sample, r.written[int(float64(i)*step)])
		}
	}

	found, err := r.target.GetMany(ctx, sample)
	if err != nil {
		r.logger.Warn("Migration verification could not read target", map[string]interface{}{
			"run_id": r.result.RunID,
			"error":  err.Error(),
		})
		return false
	}
	for _, k := range sample {
		if _, ok := found[k]; !ok {
			r.logger.Warn("Migrated entry missing from target", map[string]interface{}{
				"run_id": r.result.RunID,
				"key":    k,
			})
			return false
		}
	}
	return true
}

func (r *run) cleanup(ctx context.Context) error {
	for _, k := range r.result.MigratedKeys {
		if err := r.source.Delete(ctx, k); err != nil {
			return fmt.Errorf("failed to delete legacy entry %s: %w", k, err)
		}
	}
	return nil
}

// rollback removes written target entries and restores the backed up source
func (r *run) rollback(ctx context.Context) {
	if err := r.target.DeleteMany(ctx, r.written); err != nil {
		r.logger.Error("Rollback could not delete migrated entries", map[string]interface{}{
			"run_id": r.result.RunID,
			"error":  err.Error(),
		})
	}
	for k, v := range r.backup {
		if err := r.source.Set(ctx, k, v); err != nil {
			r.logger.Error("Rollback could not restore legacy entry", map[string]interface{}{
				"run_id": r.result.RunID,
				"key":    k,
				"error":  err.Error(),
			})
		}
	}

	r.result.Migrated = 0
	r.result.MigratedKeys = nil
	r.result.CleanedUp = false
	r.result.RolledBack = true
	r.written = nil
}

// toJSON keeps JSON values as they are and wraps anything else as a string
func toJSON(value string) json.RawMessage {
	if json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(value)
	return quoted
}
