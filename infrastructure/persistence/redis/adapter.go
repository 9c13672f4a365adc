// ABOUTME: Redis-backed persistence adapter for sharing mirrored query results
// ABOUTME: Namespaces keys, uses native TTLs and keeps a sorted index for quota eviction

package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/logger/standard"
	"digests-reader/infrastructure/persistence"
	"digests-reader/pkg/utils/pattern"
)

var _ interfaces.PersistenceAdapter = (*Adapter)(nil)

// Config holds the connection settings
type Config struct {
	Address   string
	Password  string
	DB        int
	Namespace string
}

// Adapter implements interfaces.PersistenceAdapter on Redis.
//
// Layout under the namespace ns:
//
//	ns:e:<key>  JSON record with a native TTL
//	ns:idx      sorted set of keys scored by updated_at (ms)
//	ns:size     hash of key -> stored size
type Adapter struct {
	client *redis.Client
	ns     string
	opts   persistence.Options
	stop   chan struct{}
}

// NewAdapter creates an adapter. go-redis dials lazily, so the first
// operation is what actually connects.
func NewAdapter(cfg Config, opts persistence.Options) (*Adapter, error) {
	if cfg.Address == "" {
		return nil, stderrors.New("redis address cannot be empty")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "reader"
	}
	if opts.Logger == nil {
		opts.Logger = standard.NewNopLogger()
	}

	a := &Adapter{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		ns:   cfg.Namespace,
		opts: opts,
		stop: make(chan struct{}),
	}
	if opts.MaintenanceInterval > 0 {
		go persistence.MaintenanceLoop(opts.MaintenanceInterval, a.stop, a.maintain)
	}
	return a, nil
}

// Open pings the server, surfacing connection problems early
func (a *Adapter) Open(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return errors.NewStorageError(errors.ErrStorageUnavailable, "open", "", err)
	}
	return nil
}

func (a *Adapter) entryKey(key string) string { return a.ns + ":e:" + key }
func (a *Adapter) indexKey() string          { return a.ns + ":idx" }
func (a *Adapter) sizeKey() string           { return a.ns + ":size" }

// Get returns the record under key, or nil when missing, expired or corrupt
func (a *Adapter) Get(ctx context.Context, key string) (*domain.Record, error) {
	data, err := a.client.Get(ctx, a.entryKey(key)).Bytes()
	if err == redis.Nil {
		a.forget(ctx, key)
		return nil, nil
	}
	if err != nil {
		return nil, a.unavailable("get", key, err)
	}

	rec, ok := a.decode(key, data)
	if !ok {
		a.Delete(ctx, key)
		return nil, nil
	}
	return rec, nil
}

// decode parses a stored record; corrupt or expired payloads report false
func (a *Adapter) decode(key string, data []byte) (*domain.Record, bool) {
	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil || !json.Valid(rec.Value) {
		a.opts.Logger.Warn("Dropping corrupted entry", map[string]interface{}{"key": key})
		return nil, false
	}
	if rec.Expired(time.Now()) {
		return nil, false
	}
	rec.Key = key
	return &rec, true
}

// forget removes index bookkeeping for a key whose entry is gone
func (a *Adapter) forget(ctx context.Context, key string) {
	_, _ = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, a.indexKey(), key)
		pipe.HDel(ctx, a.sizeKey(), key)
		return nil
	})
}

// Set stores rec with a native TTL. When the quota would be exceeded it
// runs one cleanup pass and retries once.
func (a *Adapter) Set(ctx context.Context, rec *domain.Record) error {
	if rec == nil || rec.Key == "" {
		return &errors.ValidationError{Field: "key", Message: "record key cannot be empty"}
	}

	err := a.write(ctx, rec)
	if !stderrors.Is(err, errors.ErrQuotaExceeded) {
		return err
	}

	removed, cerr := a.cleanup(ctx, true)
	a.opts.Logger.Warn("Storage quota reached, cleaned up before retrying write", map[string]interface{}{
		"key":     rec.Key,
		"removed": removed,
	})
	if cerr != nil {
		return err
	}
	return a.write(ctx, rec)
}

func (a *Adapter) write(ctx context.Context, rec *domain.Record) error {
	if a.opts.Quota > 0 {
		used, err := a.used(ctx)
		if err != nil {
			return err
		}
		existing, err := a.client.HGet(ctx, a.sizeKey(), rec.Key).Int64()
		if err != nil && err != redis.Nil {
			return a.unavailable("set", rec.Key, err)
		}
		if used-existing+rec.Size() > a.opts.Quota {
			return errors.NewStorageError(errors.ErrQuotaExceeded, "set", rec.Key, nil)
		}
	}

	stored := *rec
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.Key, err)
	}

	var ttl time.Duration
	if stored.ExpiresAt != nil {
		ttl = time.Until(*stored.ExpiresAt)
		if ttl <= 0 {
			// Already expired; storing it would only be read back as absent
			return a.Delete(ctx, rec.Key)
		}
	}

	_, err = a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, a.entryKey(rec.Key), data, ttl)
		pipe.ZAdd(ctx, a.indexKey(), redis.Z{Score: float64(stored.UpdatedAt.UnixMilli()), Member: rec.Key})
		pipe.HSet(ctx, a.sizeKey(), rec.Key, rec.Size())
		return nil
	})
	if err != nil {
		return a.unavailable("set", rec.Key, err)
	}
	return nil
}

// Delete removes key
func (a *Adapter) Delete(ctx context.Context, key string) error {
	return a.DeleteMany(ctx, []string{key})
}

// Clear removes every key in the namespace
func (a *Adapter) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := a.client.Scan(ctx, cursor, a.ns+":*", 500).Result()
		if err != nil {
			return a.unavailable("clear", "", err)
		}
		if len(keys) > 0 {
			if err := a.client.Unlink(ctx, keys...).Err(); err != nil {
				return a.unavailable("clear", "", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// GetMany fetches keys with one MGET
func (a *Adapter) GetMany(ctx context.Context, keys []string) (map[string]*domain.Record, error) {
	out := make(map[string]*domain.Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = a.entryKey(k)
	}
	values, err := a.client.MGet(ctx, full...).Result()
	if err != nil {
		return out, a.unavailable("getMany", "", err)
	}

	var stale []string
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		rec, ok := a.decode(keys[i], []byte(s))
		if !ok {
			stale = append(stale, keys[i])
			continue
		}
		out[keys[i]] = rec
	}
	if len(stale) > 0 {
		a.DeleteMany(ctx, stale)
	}
	return out, nil
}

// SetMany writes each record, collecting failures
func (a *Adapter) SetMany(ctx context.Context, records map[string]*domain.Record) error {
	batch := &errors.BatchError{Op: "setMany", Total: len(records)}
	for key, rec := range records {
		if rec == nil {
			batch.Add(key, &errors.ValidationError{Field: "record", Message: "record cannot be nil"})
			continue
		}
		r := *rec
		r.Key = key
		if err := a.Set(ctx, &r); err != nil {
			a.opts.Logger.Error("Failed to store entry in batch", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
			batch.Add(key, err)
		}
	}
	return batch.ErrOrNil()
}

// DeleteMany removes keys and their index entries in one transaction
func (a *Adapter) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		full[i] = a.entryKey(k)
		members[i] = k
	}

	_, err := a.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, full...)
		pipe.ZRem(ctx, a.indexKey(), members...)
		pipe.HDel(ctx, a.sizeKey(), keys...)
		return nil
	})
	if err != nil {
		return a.unavailable("deleteMany", "", err)
	}
	return nil
}

// Keys scans the namespace for live keys matching pat
func (a *Adapter) Keys(ctx context.Context, pat string) ([]string, error) {
	prefix := a.entryKey("")
	var keys []string
	var cursor uint64
	for {
		batch, next, err := a.client.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			return nil, a.unavailable("keys", "", err)
		}
		for _, full := range batch {
			k := strings.TrimPrefix(full, prefix)
			if pattern.Match(pat, k) {
				keys = append(keys, k)
			}
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(keys)
	return keys, nil
}

// StorageInfo reports usage from the size hash and the update index
func (a *Adapter) StorageInfo(ctx context.Context) (domain.StorageInfo, error) {
	info := domain.StorageInfo{Quota: a.opts.Quota}

	used, err := a.used(ctx)
	if err != nil {
		return info, err
	}
	info.Used = used

	count, err := a.client.ZCard(ctx, a.indexKey()).Result()
	if err != nil {
		return info, a.unavailable("storageInfo", "", err)
	}
	info.Count = int(count)

	oldest, err := a.client.ZRangeWithScores(ctx, a.indexKey(), 0, 0).Result()
	if err != nil {
		return info, a.unavailable("storageInfo", "", err)
	}
	if len(oldest) == 1 {
		info.OldestEntry = time.UnixMilli(int64(oldest[0].Score))
	}
	return info, nil
}

func (a *Adapter) used(ctx context.Context) (int64, error) {
	sizes, err := a.client.HVals(ctx, a.sizeKey()).Result()
	if err != nil {
		return 0, a.unavailable("storageInfo", "", err)
	}
	var total int64
	for _, s := range sizes {
		n, _ := strconv.ParseInt(s, 10, 64)
		total += n
	}
	return total, nil
}

// cleanup drops index entries whose record has expired natively, then
// optionally evicts the oldest share of the rest
func (a *Adapter) cleanup(ctx context.Context, evict bool) (int, error) {
	members, err := a.client.ZRange(ctx, a.indexKey(), 0, -1).Result()
	if err != nil {
		return 0, a.unavailable("cleanup", "", err)
	}

	var expired, live []string
	for _, k := range members {
		n, err := a.client.Exists(ctx, a.entryKey(k)).Result()
		if err != nil {
			return 0, a.unavailable("cleanup", k, err)
		}
		if n == 0 {
			expired = append(expired, k)
		} else {
			live = append(live, k)
		}
	}

	removed := expired
	if evict && len(live) > 0 {
		// ZRANGE is ascending by score, so live is oldest first
		removed = append(removed, live[:persistence.EvictCount(len(live))]...)
	}
	if err := a.DeleteMany(ctx, removed); err != nil {
		return 0, err
	}
	return len(removed), nil
}

func (a *Adapter) maintain() {
	ctx := context.Background()
	info, err := a.StorageInfo(ctx)
	if err != nil {
		a.opts.Logger.Warn("Maintenance could not read storage info", map[string]interface{}{"error": err.Error()})
		return
	}

	overThreshold := info.Quota > 0 && info.UsagePercent() >= a.opts.CleanupThreshold
	removed, err := a.cleanup(ctx, overThreshold)
	if err != nil {
		a.opts.Logger.Warn("Maintenance cleanup failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if removed > 0 {
		a.opts.Logger.Debug("Maintenance cleanup finished", map[string]interface{}{"removed": removed})
	}
}

// Destroy stops maintenance and closes the client
func (a *Adapter) Destroy() error {
	select {
	case <-a.stop:
		return nil
	default:
		close(a.stop)
	}
	return a.client.Close()
}

func (a *Adapter) unavailable(op, key string, err error) error {
	return errors.NewStorageError(errors.ErrStorageUnavailable, op, key, err)
}
