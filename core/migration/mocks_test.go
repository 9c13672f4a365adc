package migration

import (
	"context"
	"sort"
	"sync"

	"digests-reader/core/domain"
	"digests-reader/core/errors"
	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/persistence"
	"digests-reader/infrastructure/persistence/memory"
)

// mockSource is an in-memory legacy store
type mockSource struct {
	mu      sync.Mutex
	data    map[string]string
	getFunc func(key string) (string, bool, error)
}

func newMockSource(data map[string]string) *mockSource {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &mockSource{data: cp}
}

func (m *mockSource) Keys(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *mockSource) Get(ctx context.Context, key string) (string, bool, error) {
	if m.getFunc != nil {
		return m.getFunc(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mockSource) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockSource) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockSource) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp
}

// mockTarget is an in-memory adapter that can reject chosen keys
type mockTarget struct {
	interfaces.PersistenceAdapter
	reject map[string]bool
	hide   map[string]bool
}

func newMockTarget() *mockTarget {
	return &mockTarget{
		PersistenceAdapter: memory.NewAdapter(persistence.Options{}),
		reject:             make(map[string]bool),
		hide:               make(map[string]bool),
	}
}

func (m *mockTarget) SetMany(ctx context.Context, records map[string]*domain.Record) error {
	batch := &errors.BatchError{Op: "setMany", Total: len(records)}
	ok := make(map[string]*domain.Record, len(records))
	for k, rec := range records {
		if m.reject[k] {
			batch.Add(k, errors.NewStorageError(errors.ErrQuotaExceeded, "set", k, nil))
			continue
		}
		ok[k] = rec
	}
	if err := m.PersistenceAdapter.SetMany(ctx, ok); err != nil {
		return err
	}
	return batch.ErrOrNil()
}

func (m *mockTarget) GetMany(ctx context.Context, keys []string) (map[string]*domain.Record, error) {
	out, err := m.PersistenceAdapter.GetMany(ctx, keys)
	for k := range m.hide {
		delete(out, k)
	}
	return out, err
}
