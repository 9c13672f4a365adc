// ABOUTME: Reactive server-state cache holding query results by logical key
// ABOUTME: Emits added/updated/removed events to subscribers for offline mirroring

package querycache

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"digests-reader/core/domain"
)

// EventType identifies what happened to a query
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event describes a change to one query
type Event struct {
	Type      EventType
	Key       domain.QueryKey
	Data      any
	HasData   bool
	UpdatedAt time.Time

	// Restored is true when the update came from durable storage rather
	// than from the network
	Restored bool
}

// Query is a snapshot of one registered query
type Query struct {
	Key       domain.QueryKey
	Data      any
	HasData   bool
	UpdatedAt time.Time
}

// Cache is the single in-memory source of truth for server state.
// Subscribers are called synchronously, outside the data lock, in the
// order events happen. A subscriber must not mutate the cache from its
// callback.
type Cache struct {
	mu      sync.RWMutex
	queries map[string]*Query

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int

	// emitMu keeps event delivery in mutation order
	emitMu sync.Mutex
}

// New creates an empty query cache
func New() *Cache {
	return &Cache{
		queries: make(map[string]*Query),
		subs:    make(map[int]func(Event)),
	}
}

// Ensure registers key without data. It reports whether the query was new.
func (c *Cache) Ensure(key domain.QueryKey) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := key.Hash()
	if _, ok := c.queries[id]; ok {
		c.mu.Unlock()
		return false
	}
	c.queries[id] = &Query{Key: cloneKey(key)}
	c.mu.Unlock()

	c.emit(Event{Type: EventAdded, Key: cloneKey(key)})
	return true
}

// SetData stores data for key, registering the query if needed
func (c *Cache) SetData(key domain.QueryKey, data any) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	now := time.Now()
	added := c.store(key, data, now)
	if added {
		c.emit(Event{Type: EventAdded, Key: cloneKey(key)})
	}
	c.emit(Event{Type: EventUpdated, Key: cloneKey(key), Data: data, HasData: true, UpdatedAt: now})
}

// SetDataIfEmpty seeds key with restored data only when the query holds no
// data yet. The check and the write happen atomically, so a network result
// that landed first is never overwritten.
func (c *Cache) SetDataIfEmpty(key domain.QueryKey, data any, updatedAt time.Time) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := key.Hash()
	q, ok := c.queries[id]
	if ok && q.HasData {
		c.mu.Unlock()
		return false
	}
	if !ok {
		q = &Query{Key: cloneKey(key)}
		c.queries[id] = q
	}
	q.Data = data
	q.HasData = true
	q.UpdatedAt = updatedAt
	c.mu.Unlock()

	if !ok {
		c.emit(Event{Type: EventAdded, Key: cloneKey(key)})
	}
	c.emit(Event{Type: EventUpdated, Key: cloneKey(key), Data: data, HasData: true, UpdatedAt: updatedAt, Restored: true})
	return true
}

func (c *Cache) store(key domain.QueryKey, data any, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := key.Hash()
	q, ok := c.queries[id]
	if !ok {
		q = &Query{Key: cloneKey(key)}
		c.queries[id] = q
	}
	q.Data = data
	q.HasData = true
	q.UpdatedAt = at
	return !ok
}

// GetData returns the data held for key
func (c *Cache) GetData(key domain.QueryKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.queries[key.Hash()]
	if !ok || !q.HasData {
		return nil, false
	}
	return q.Data, true
}

// Get returns a snapshot of the query registered under key
func (c *Cache) Get(key domain.QueryKey) (Query, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.queries[key.Hash()]
	if !ok {
		return Query{}, false
	}
	return *q, true
}

// Remove drops key from the cache
func (c *Cache) Remove(key domain.QueryKey) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	id := key.Hash()
	_, ok := c.queries[id]
	delete(c.queries, id)
	c.mu.Unlock()

	if ok {
		c.emit(Event{Type: EventRemoved, Key: cloneKey(key)})
	}
	return ok
}

// Queries returns a snapshot of every registered query ordered by key
func (c *Cache) Queries() []Query {
	c.mu.RLock()
	out := make([]Query, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, *q)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Subscribe registers fn for every future event and returns a function
// that unsubscribes it
func (c *Cache) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})
	}
}

func (c *Cache) emit(ev Event) {
	c.subMu.RLock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// DataAs returns the data for key as T. Restored entries hold raw JSON,
// which is decoded into T on demand.
func DataAs[T any](c *Cache, key domain.QueryKey) (T, bool, error) {
	var zero T
	data, ok := c.GetData(key)
	if !ok {
		return zero, false, nil
	}
	return Decode[T](data)
}

// Decode converts a cached value into T, unmarshalling raw JSON
func Decode[T any](data any) (T, bool, error) {
	var zero T
	switch v := data.(type) {
	case T:
		return v, true, nil
	case json.RawMessage:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return zero, false, fmt.Errorf("failed to decode cached data: %w", err)
		}
		return out, true, nil
	case []byte:
		var out T
		if err := json.Unmarshal(v, &out); err != nil {
			return zero, false, fmt.Errorf("failed to decode cached data: %w", err)
		}
		return out, true, nil
	case nil:
		return zero, false, nil
	}
	return zero, false, fmt.Errorf("cached data is %T", data)
}

func cloneKey(key domain.QueryKey) domain.QueryKey {
	return append(domain.QueryKey(nil), key...)
}
