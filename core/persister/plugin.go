// ABOUTME: Mirrors the reactive query cache into a durable persistence adapter
// ABOUTME: Debounces per key, batches writes, restores on cold start and purges by feed

package persister

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"digests-reader/core/cachekey"
	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/core/querycache"
	"digests-reader/pkg/utils/pattern"
)

// Options configures a Plugin
type Options struct {
	// Prefix namespaces this plugin's keys inside the adapter
	Prefix string

	// Throttle debounces writes per key; zero writes on every update
	Throttle time.Duration

	// BatchSize flushes the pending queue once it holds this many entries
	BatchSize int

	// BatchInterval flushes the pending queue this long after its first entry
	BatchInterval time.Duration

	// MaxAge expires persisted entries; zero keeps them until removed
	MaxAge time.Duration

	// Include and Exclude are glob patterns over QueryKey.String().
	// Exclude wins; an empty Include persists everything not excluded.
	Include []string
	Exclude []string

	Serializer Serializer
	Logger     interfaces.Logger
}

// DefaultOptions returns a one second debounce with batches of ten
func DefaultOptions() Options {
	return Options{
		Prefix:        "query:",
		Throttle:      time.Second,
		BatchSize:     10,
		BatchInterval: 100 * time.Millisecond,
		MaxAge:        24 * time.Hour,
	}
}

// op is a pending write; a nil record means delete
type op struct {
	record *domain.Record
}

// Plugin subscribes to a query cache and mirrors its data into an adapter
type Plugin struct {
	cache   *querycache.Cache
	adapter interfaces.PersistenceAdapter
	opts    Options
	logger  interfaces.Logger

	mu         sync.Mutex
	timers     map[string]*time.Timer
	latest     map[string]querycache.Event
	queue      map[string]op
	batchTimer *time.Timer
	restored   map[string]bool
	closed     bool

	// drained batches commit one at a time, in drain order
	batches []map[string]op
	writing bool
	idle    chan struct{}

	unsubscribe func()
}

// New creates a plugin and subscribes it to cache
func New(cache *querycache.Cache, adapter interfaces.PersistenceAdapter, opts Options) *Plugin {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.Serializer == nil {
		opts.Serializer = JSONSerializer{}
	}
	if opts.Logger == nil {
		opts.Logger = interfaces.NopLogger{}
	}

	p := &Plugin{
		cache:    cache,
		adapter:  adapter,
		opts:     opts,
		logger:   opts.Logger,
		timers:   make(map[string]*time.Timer),
		latest:   make(map[string]querycache.Event),
		queue:    make(map[string]op),
		restored: make(map[string]bool),
	}
	p.unsubscribe = cache.Subscribe(p.handle)
	return p
}

// ShouldPersist applies the include/exclude policy to key
func (p *Plugin) ShouldPersist(key domain.QueryKey) bool {
	s := key.String()
	if pattern.MatchAny(p.opts.Exclude, s) {
		return false
	}
	return len(p.opts.Include) == 0 || pattern.MatchAny(p.opts.Include, s)
}

// StorageKey returns the adapter key under which key is persisted
func (p *Plugin) StorageKey(key domain.QueryKey) string {
	return p.opts.Prefix + key.Hash()
}

func (p *Plugin) handle(ev querycache.Event) {
	if !p.ShouldPersist(ev.Key) {
		return
	}

	switch ev.Type {
	case querycache.EventUpdated:
		// restored data came from storage and is already persisted
		if !ev.HasData || ev.Restored {
			return
		}
		p.schedule(ev)
	case querycache.EventRemoved:
		p.scheduleDelete(ev.Key)
	}
}

// schedule debounces ev so the last update inside the window wins
func (p *Plugin) schedule(ev querycache.Event) {
	id := p.StorageKey(ev.Key)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.latest[id] = ev
	if p.opts.Throttle <= 0 {
		p.promoteLocked(id)
		return
	}
	if t, ok := p.timers[id]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(p.opts.Throttle, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		// a newer update replaced this timer after it fired
		if p.timers[id] != t {
			return
		}
		p.promoteLocked(id)
	})
	p.timers[id] = t
}

func (p *Plugin) scheduleDelete(key domain.QueryKey) {
	id := p.StorageKey(key)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	if t, ok := p.timers[id]; ok {
		t.Stop()
		delete(p.timers, id)
	}
	delete(p.latest, id)
	p.enqueueLocked(id, op{})
}

// promoteLocked moves the latest debounced update for id into the queue
func (p *Plugin) promoteLocked(id string) {
	delete(p.timers, id)
	ev, ok := p.latest[id]
	if !ok {
		return
	}
	delete(p.latest, id)

	rec, err := p.record(id, ev)
	if err != nil {
		p.logger.Warn("Failed to serialize query for persistence", map[string]interface{}{
			"query": ev.Key.String(),
			"error": err.Error(),
		})
		return
	}
	p.enqueueLocked(id, op{record: rec})
}

func (p *Plugin) enqueueLocked(id string, o op) {
	p.queue[id] = o
	if len(p.queue) >= p.opts.BatchSize {
		p.flushAsyncLocked()
		return
	}
	if p.batchTimer == nil {
		p.batchTimer = time.AfterFunc(p.opts.BatchInterval, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.flushAsyncLocked()
		})
	}
}

func (p *Plugin) flushAsyncLocked() {
	if !p.queueBatchLocked() || p.writing {
		return
	}
	p.startWriterLocked()
	go p.drain(context.Background())
}

// queueBatchLocked moves the pending queue behind any batches already
// waiting for the writer
func (p *Plugin) queueBatchLocked() bool {
	batch := p.takeQueueLocked()
	if len(batch) == 0 {
		return false
	}
	p.batches = append(p.batches, batch)
	return true
}

func (p *Plugin) startWriterLocked() {
	p.writing = true
	p.idle = make(chan struct{})
}

// drain writes queued batches until none are left
func (p *Plugin) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.batches) == 0 {
			p.writing = false
			close(p.idle)
			p.mu.Unlock()
			return
		}
		batch := p.batches[0]
		p.batches[0] = nil
		p.batches = p.batches[1:]
		p.mu.Unlock()

		p.write(ctx, batch)
	}
}

func (p *Plugin) takeQueueLocked() map[string]op {
	if p.batchTimer != nil {
		p.batchTimer.Stop()
		p.batchTimer = nil
	}
	batch := p.queue
	p.queue = make(map[string]op)
	return batch
}

func (p *Plugin) record(id string, ev querycache.Event) (*domain.Record, error) {
	data, err := p.opts.Serializer.Encode(ev.Data)
	if err != nil {
		return nil, err
	}

	entry := domain.PersistedEntry{
		Key:           ev.Key,
		Data:          data,
		DataUpdatedAt: ev.UpdatedAt,
		Meta:          ExtractMeta(ev.Key),
	}
	if p.opts.MaxAge > 0 {
		expiresAt := time.Now().Add(p.opts.MaxAge)
		entry.ExpiresAt = &expiresAt
	}

	value, err := json.Marshal(&entry)
	if err != nil {
		return nil, err
	}
	return &domain.Record{
		Key:       id,
		Value:     value,
		UpdatedAt: time.Now(),
		ExpiresAt: entry.ExpiresAt,
		Meta:      entry.Meta,
	}, nil
}

// write applies one batch: a single SetMany, falling back to per-entry Set
// for whatever the batch could not store, then the deletes
func (p *Plugin) write(ctx context.Context, batch map[string]op) {
	sets := make(map[string]*domain.Record)
	var deletes []string
	for id, o := range batch {
		if o.record == nil {
			deletes = append(deletes, id)
		} else {
			sets[id] = o.record
		}
	}

	if len(sets) > 0 {
		if err := p.adapter.SetMany(ctx, sets); err != nil {
			retry := sets
			var batchErr *errors.BatchError
			if stderrors.As(err, &batchErr) {
				retry = make(map[string]*domain.Record, len(batchErr.Errors))
				for id := range batchErr.Errors {
					retry[id] = sets[id]
				}
			}
			p.logger.Warn("Batch persist failed, retrying entries individually", map[string]interface{}{
				"entries": len(retry),
				"error":   err.Error(),
			})
			for id, rec := range retry {
				if rec == nil {
					continue
				}
				if err := p.adapter.Set(ctx, rec); err != nil {
					p.logger.Error("Failed to persist query", map[string]interface{}{
						"key":   id,
						"error": err.Error(),
					})
				}
			}
		}
	}

	if len(deletes) > 0 {
		if err := p.adapter.DeleteMany(ctx, deletes); err != nil {
			p.logger.Warn("Failed to delete persisted queries", map[string]interface{}{
				"entries": len(deletes),
				"error":   err.Error(),
			})
		}
	}
}

// Flush writes every pending update immediately, including ones still
// inside their debounce window, and waits until the writer is idle
func (p *Plugin) Flush(ctx context.Context) {
	p.mu.Lock()
	for id, t := range p.timers {
		t.Stop()
		p.promoteLocked(id)
	}
	p.queueBatchLocked()
	if !p.writing {
		if len(p.batches) == 0 {
			p.mu.Unlock()
			return
		}
		p.startWriterLocked()
		p.mu.Unlock()
		p.drain(ctx)
		return
	}
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
	}
}

// Close unsubscribes from the cache and flushes pending writes
func (p *Plugin) Close(ctx context.Context) {
	p.unsubscribe()
	p.Flush(ctx)

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Restore seeds every registered query that has no data from storage.
// Each key is attempted at most once per plugin lifetime, and a query that
// received data in the meantime is left alone. It returns how many queries
// were seeded.
func (p *Plugin) Restore(ctx context.Context) (int, error) {
	byID := make(map[string]domain.QueryKey)
	var ids []string

	p.mu.Lock()
	for _, q := range p.cache.Queries() {
		if q.HasData || !p.ShouldPersist(q.Key) {
			continue
		}
		id := p.StorageKey(q.Key)
		if p.restored[id] {
			continue
		}
		p.restored[id] = true
		byID[id] = q.Key
		ids = append(ids, id)
	}
	p.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}

	records, err := p.adapter.GetMany(ctx, ids)
	if err != nil {
		p.logger.Warn("Failed to read persisted queries", map[string]interface{}{
			"queries": len(ids),
			"error":   err.Error(),
		})
		return 0, err
	}

	seeded := 0
	var corrupt []string
	for id, rec := range records {
		entry, data, err := p.decode(rec)
		if err != nil {
			p.logger.Warn("Dropping unreadable persisted query", map[string]interface{}{
				"key":   id,
				"error": err.Error(),
			})
			corrupt = append(corrupt, id)
			continue
		}
		if p.cache.SetDataIfEmpty(byID[id], data, entry.DataUpdatedAt) {
			seeded++
		}
	}
	if len(corrupt) > 0 {
		if err := p.adapter.DeleteMany(ctx, corrupt); err != nil {
			p.logger.Warn("Failed to delete unreadable queries", map[string]interface{}{"error": err.Error()})
		}
	}

	p.logger.Debug("Restored persisted queries", map[string]interface{}{
		"requested": len(ids),
		"restored":  seeded,
	})
	return seeded, nil
}

// RestoreKey registers key and restores it if it has no data yet
func (p *Plugin) RestoreKey(ctx context.Context, key domain.QueryKey) (bool, error) {
	p.cache.Ensure(key)
	if !p.ShouldPersist(key) {
		return false, nil
	}

	id := p.StorageKey(key)
	p.mu.Lock()
	if p.restored[id] {
		p.mu.Unlock()
		return false, nil
	}
	p.restored[id] = true
	p.mu.Unlock()

	rec, err := p.adapter.Get(ctx, id)
	if err != nil || rec == nil {
		return false, err
	}
	entry, data, err := p.decode(rec)
	if err != nil {
		p.logger.Warn("Dropping unreadable persisted query", map[string]interface{}{
			"key":   id,
			"error": err.Error(),
		})
		if err := p.adapter.Delete(ctx, id); err != nil {
			p.logger.Warn("Failed to delete unreadable query", map[string]interface{}{
				"key":   id,
				"error": err.Error(),
			})
		}
		return false, nil
	}
	return p.cache.SetDataIfEmpty(key, data, entry.DataUpdatedAt), nil
}

func (p *Plugin) decode(rec *domain.Record) (*domain.PersistedEntry, json.RawMessage, error) {
	var entry domain.PersistedEntry
	if err := json.Unmarshal(rec.Value, &entry); err != nil {
		return nil, nil, errors.NewStorageError(errors.ErrCorruptedEntry, "restore", rec.Key, err)
	}
	data, err := p.opts.Serializer.Decode(entry.Data)
	if err != nil {
		return nil, nil, errors.NewStorageError(errors.ErrCorruptedEntry, "restore", rec.Key, err)
	}
	return &entry, data, nil
}

// PurgeFeed deletes every persisted query tagged with feedURL
func (p *Plugin) PurgeFeed(ctx context.Context, feedURL string) (int, error) {
	keys, err := p.adapter.Keys(ctx, p.opts.Prefix+"*")
	if err != nil {
		return 0, err
	}
	records, err := p.adapter.GetMany(ctx, keys)
	if err != nil {
		return 0, err
	}

	target := cachekey.NormalizeURL(feedURL)
	var doomed []string
	for id, rec := range records {
		if rec.Meta.FeedURL == target {
			doomed = append(doomed, id)
		}
	}
	if err := p.adapter.DeleteMany(ctx, doomed); err != nil {
		return 0, err
	}
	return len(doomed), nil
}
