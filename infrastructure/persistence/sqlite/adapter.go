// ABOUTME: SQLite-backed durable persistence adapter for mirrored query results
// ABOUTME: Lazily opens one connection and enforces expiry, corruption handling and a byte quota

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/logger/standard"
	"digests-reader/infrastructure/persistence"
	"digests-reader/pkg/utils/pattern"
)

// maxBatchParams keeps IN clauses below SQLite's bound variable limit
const maxBatchParams = 500

var _ interfaces.PersistenceAdapter = (*Adapter)(nil)

// Adapter implements interfaces.PersistenceAdapter over one SQLite file
type Adapter struct {
	filePath string
	opts     persistence.Options

	mu        sync.Mutex
	db        *sql.DB
	destroyed bool
	stop      chan struct{}
}

// NewAdapter creates an adapter for filePath. The database is opened on the
// first operation, not here.
func NewAdapter(filePath string, opts persistence.Options) *Adapter {
	if filePath == "" {
		filePath = "reader.db"
	}
	if opts.Logger == nil {
		opts.Logger = standard.NewNopLogger()
	}
	return &Adapter{filePath: filePath, opts: opts}
}

// Open forces the lazy connection, surfacing configuration problems early
func (a *Adapter) Open(ctx context.Context) error {
	_, err := a.conn(ctx)
	return err
}

// conn returns the shared connection, opening and migrating it on first use.
// A failed open is not cached so a later call can retry.
func (a *Adapter) conn(ctx context.Context) (*sql.DB, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return nil, errors.NewStorageError(errors.ErrStorageUnavailable, "open", "", stderrors.New("adapter destroyed"))
	}
	if a.db != nil {
		return a.db, nil
	}

	db, err := sql.Open("sqlite3", a.filePath+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewStorageError(errors.ErrStorageUnavailable, "open", "", err)
	}
	// One writer at a time; SQLite serializes writes anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewStorageError(errors.ErrStorageUnavailable, "open", "", err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		var storageErr *errors.StorageError
		if stderrors.As(err, &storageErr) {
			return nil, err
		}
		return nil, errors.NewStorageError(errors.ErrStorageUnavailable, "open", "", err)
	}

	a.db = db
	if a.opts.MaintenanceInterval > 0 {
		a.stop = make(chan struct{})
		go persistence.MaintenanceLoop(a.opts.MaintenanceInterval, a.stop, a.maintain)
	}

	a.opts.Logger.Debug("Opened entry store", map[string]interface{}{
		"path":           a.filePath,
		"schema_version": SchemaVersion,
	})
	return db, nil
}

// Get returns the record under key, or nil when missing, expired or corrupt
func (a *Adapter) Get(ctx context.Context, key string) (*domain.Record, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `SELECT key, value, updated_at, expires_at, query_type, feed_url, user_id, tags
		FROM entries WHERE key = ?`, key)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}

	if bad := a.checkRecord(rec); bad {
		if _, err := db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
			a.opts.Logger.Warn("Failed to delete stale entry", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		return nil, nil
	}
	return rec, nil
}

// checkRecord reports whether rec must be treated as absent
func (a *Adapter) checkRecord(rec *domain.Record) bool {
	if rec.Expired(time.Now()) {
		return true
	}
	if !json.Valid(rec.Value) {
		a.opts.Logger.Warn("Dropping corrupted entry", map[string]interface{}{
			"key":   rec.Key,
			"error": errors.ErrCorruptedEntry.Error(),
		})
		return true
	}
	return false
}

// Set stores rec. When the quota would be exceeded it runs one cleanup pass
// and retries once before returning ErrQuotaExceeded.
func (a *Adapter) Set(ctx context.Context, rec *domain.Record) error {
	if rec == nil {
		return &errors.ValidationError{Field: "record", Message: "record cannot be nil"}
	}
	if err := a.validate(rec); err != nil {
		return err
	}
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}

	evict := true
	return a.writeOne(ctx, db, rec, &evict)
}

// writeOne stores rec. On a quota error it runs one cleanup pass and
// retries, but only while *evict is set; the flag is cleared once used.
func (a *Adapter) writeOne(ctx context.Context, db *sql.DB, rec *domain.Record, evict *bool) error {
	err := a.write(ctx, db, []*domain.Record{rec})
	if !stderrors.Is(err, errors.ErrQuotaExceeded) || !*evict {
		return err
	}
	*evict = false

	removed, cerr := a.cleanup(ctx, db, true)
	a.opts.Logger.Warn("Storage quota reached, cleaned up before retrying write", map[string]interface{}{
		"key":     rec.Key,
		"removed": removed,
	})
	if cerr != nil {
		return err
	}
	return a.write(ctx, db, []*domain.Record{rec})
}

func (a *Adapter) validate(rec *domain.Record) error {
	if err := ValidateKey(rec.Key, a.opts.Logger); err != nil {
		return &errors.ValidationError{Field: "key", Message: err.Error()}
	}
	if err := ValidateValue(rec.Value); err != nil {
		return &errors.ValidationError{Field: "value", Message: err.Error()}
	}
	return nil
}

// write stores records in one transaction, checking the quota first
func (a *Adapter) write(ctx context.Context, db *sql.DB, records []*domain.Record) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return a.classify("set", "", err)
	}
	defer tx.Rollback()

	if a.opts.Quota > 0 {
		var used int64
		if err := tx.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM entries").Scan(&used); err != nil {
			return a.classify("set", "", err)
		}
		for _, rec := range records {
			var existing int64
			err := tx.QueryRowContext(ctx, "SELECT size FROM entries WHERE key = ?", rec.Key).Scan(&existing)
			if err != nil && err != sql.ErrNoRows {
				return a.classify("set", rec.Key, err)
			}
			used += rec.Size() - existing
		}
		if used > a.opts.Quota {
			key := ""
			if len(records) == 1 {
				key = records[0].Key
			}
			return errors.NewStorageError(errors.ErrQuotaExceeded, "set", key,
				fmt.Errorf("%d bytes needed, quota is %d", used, a.opts.Quota))
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO entries
		(key, value, size, updated_at, expires_at, query_type, feed_url, user_id, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return a.classify("set", "", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		updated := rec.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}
		var expires sql.NullInt64
		if rec.ExpiresAt != nil {
			expires = sql.NullInt64{Int64: rec.ExpiresAt.UnixMilli(), Valid: true}
		}
		tags, _ := json.Marshal(nonNil(rec.Meta.Tags))

		_, err := stmt.ExecContext(ctx, rec.Key, []byte(rec.Value), rec.Size(), updated.UnixMilli(), expires,
			rec.Meta.QueryType, rec.Meta.FeedURL, rec.Meta.UserID, string(tags))
		if err != nil {
			return a.classify("set", rec.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return a.classify("set", "", err)
	}
	return nil
}

// classify maps SQLITE_FULL to the quota error and wraps everything else
func (a *Adapter) classify(op, key string, err error) error {
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		return errors.NewStorageError(errors.ErrQuotaExceeded, op, key, err)
	}
	if key != "" {
		return fmt.Errorf("failed to %s %s: %w", op, key, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Delete removes key
func (a *Adapter) Delete(ctx context.Context, key string) error {
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete value: %w", err)
	}
	return nil
}

// Clear removes every record
func (a *Adapter) Clear(ctx context.Context) error {
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM entries"); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	return nil
}

// GetMany returns every live record among keys. Expired and corrupt rows
// are deleted and left out of the result.
func (a *Adapter) GetMany(ctx context.Context, keys []string) (map[string]*domain.Record, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*domain.Record, len(keys))
	var stale []string
	for _, chunk := range chunks(keys, maxBatchParams) {
		args := make([]interface{}, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		query := `SELECT key, value, updated_at, expires_at, query_type, feed_url, user_id, tags
			FROM entries WHERE key IN (?` + strings.Repeat(",?", len(chunk)-1) + `)`

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return out, fmt.Errorf("failed to get values: %w", err)
		}
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				a.opts.Logger.Warn("Skipping unreadable entry", map[string]interface{}{"error": err.Error()})
				continue
			}
			if a.checkRecord(rec) {
				stale = append(stale, rec.Key)
				continue
			}
			out[rec.Key] = rec
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return out, fmt.Errorf("failed to read values: %w", err)
		}
	}

	if len(stale) > 0 {
		if err := a.DeleteMany(ctx, stale); err != nil {
			a.opts.Logger.Warn("Failed to delete stale entries", map[string]interface{}{"error": err.Error()})
		}
	}
	return out, nil
}

// SetMany writes all records in one transaction. If that fails, each record
// is written on its own so one bad entry cannot sink the batch. A quota
// error triggers at most one cleanup pass per call.
func (a *Adapter) SetMany(ctx context.Context, records map[string]*domain.Record) error {
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}

	batch := &errors.BatchError{Op: "setMany", Total: len(records)}
	valid := make([]*domain.Record, 0, len(records))
	for key, rec := range records {
		if rec == nil {
			batch.Add(key, &errors.ValidationError{Field: "record", Message: "record cannot be nil"})
			continue
		}
		r := *rec
		r.Key = key
		if err := a.validate(&r); err != nil {
			batch.Add(key, err)
			continue
		}
		valid = append(valid, &r)
	}

	if len(valid) > 0 {
		if err := a.write(ctx, db, valid); err != nil {
			a.opts.Logger.Warn("Batch write failed, writing entries individually", map[string]interface{}{
				"count": len(valid),
				"error": err.Error(),
			})
			evict := true
			for _, rec := range valid {
				if err := a.writeOne(ctx, db, rec, &evict); err != nil {
					a.opts.Logger.Error("Failed to store entry in batch", map[string]interface{}{
						"key":   rec.Key,
						"error": err.Error(),
					})
					batch.Add(rec.Key, err)
				}
			}
		}
	}
	return batch.ErrOrNil()
}

// DeleteMany removes every key in one transaction
func (a *Adapter) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	db, err := a.conn(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM entries WHERE key = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()

	batch := &errors.BatchError{Op: "deleteMany", Total: len(keys)}
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			a.opts.Logger.Error("Failed to delete entry in batch", map[string]interface{}{
				"key":   k,
				"error": err.Error(),
			})
			batch.Add(k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return batch.ErrOrNil()
}

// Keys lists live keys matching pat, sorted
func (a *Adapter) Keys(ctx context.Context, pat string) ([]string, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT key FROM entries WHERE expires_at IS NULL OR expires_at >= ? ORDER BY key",
		time.Now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		if pattern.Match(pat, k) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

// StorageInfo reports usage against the quota
func (a *Adapter) StorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return domain.StorageInfo{}, err
	}

	var info domain.StorageInfo
	var oldest sql.NullInt64
	err = db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0), COUNT(*), MIN(updated_at) FROM entries").
		Scan(&info.Used, &info.Count, &oldest)
	if err != nil {
		return info, fmt.Errorf("failed to read storage info: %w", err)
	}
	info.Quota = a.opts.Quota
	if oldest.Valid {
		info.OldestEntry = time.UnixMilli(oldest.Int64)
	}
	return info, nil
}

// Cleanup deletes expired rows and, when evict is set, the oldest share of
// the rest. It returns the number of rows removed.
func (a *Adapter) Cleanup(ctx context.Context, evict bool) (int64, error) {
	db, err := a.conn(ctx)
	if err != nil {
		return 0, err
	}
	return a.cleanup(ctx, db, evict)
}

func (a *Adapter) cleanup(ctx context.Context, db *sql.DB, evict bool) (int64, error) {
	res, err := db.ExecContext(ctx,
		"DELETE FROM entries WHERE expires_at IS NOT NULL AND expires_at < ?", time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired entries: %w", err)
	}
	removed, _ := res.RowsAffected()
	if !evict {
		return removed, nil
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&count); err != nil {
		return removed, fmt.Errorf("failed to count entries: %w", err)
	}
	if count == 0 {
		return removed, nil
	}

	res, err = db.ExecContext(ctx,
		"DELETE FROM entries WHERE key IN (SELECT key FROM entries ORDER BY updated_at ASC LIMIT ?)",
		persistence.EvictCount(count))
	if err != nil {
		return removed, fmt.Errorf("failed to evict entries: %w", err)
	}
	evicted, _ := res.RowsAffected()
	return removed + evicted, nil
}

// maintain runs cleanup when usage is over threshold or rows have expired
func (a *Adapter) maintain() {
	ctx := context.Background()
	a.mu.Lock()
	db := a.db
	a.mu.Unlock()
	if db == nil {
		return
	}

	info, err := a.StorageInfo(ctx)
	if err != nil {
		a.opts.Logger.Warn("Maintenance could not read storage info", map[string]interface{}{"error": err.Error()})
		return
	}

	var expired int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now().UnixMilli()).Scan(&expired)
	if err != nil {
		a.opts.Logger.Warn("Maintenance could not count expired entries", map[string]interface{}{"error": err.Error()})
		return
	}

	overThreshold := info.Quota > 0 && info.UsagePercent() >= a.opts.CleanupThreshold
	if !overThreshold && expired == 0 {
		return
	}

	removed, err := a.cleanup(ctx, db, overThreshold)
	if err != nil {
		a.opts.Logger.Warn("Maintenance cleanup failed", map[string]interface{}{"error": err.Error()})
		return
	}
	a.opts.Logger.Debug("Maintenance cleanup finished", map[string]interface{}{
		"removed":       removed,
		"usage_percent": info.UsagePercent(),
	})
}

// Destroy stops maintenance and closes the connection
func (a *Adapter) Destroy() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return nil
	}
	a.destroyed = true
	if a.stop != nil {
		close(a.stop)
	}
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.Record, error) {
	var (
		rec       domain.Record
		value     []byte
		updatedAt int64
		expiresAt sql.NullInt64
		tags      string
	)
	err := s.Scan(&rec.Key, &value, &updatedAt, &expiresAt,
		&rec.Meta.QueryType, &rec.Meta.FeedURL, &rec.Meta.UserID, &tags)
	if err != nil {
		return nil, err
	}

	rec.Value = json.RawMessage(value)
	rec.UpdatedAt = time.UnixMilli(updatedAt)
	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64)
		rec.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(tags), &rec.Meta.Tags); err != nil {
		rec.Meta.Tags = nil
	}
	if len(rec.Meta.Tags) == 0 {
		rec.Meta.Tags = nil
	}
	return &rec, nil
}

func chunks(keys []string, size int) [][]string {
	var out [][]string
	for len(keys) > 0 {
		n := size
		if len(keys) < n {
			n = len(keys)
		}
		out = append(out, keys[:n])
		keys = keys[n:]
	}
	return out
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
