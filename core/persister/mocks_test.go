package persister

import (
	"context"
	"sync"

	"digests-reader/core/domain"
	"digests-reader/core/interfaces"
	"digests-reader/infrastructure/persistence"
	"digests-reader/infrastructure/persistence/memory"
)

// mockAdapter wraps an in-memory adapter, counting writes and allowing
// individual operations to be overridden
type mockAdapter struct {
	interfaces.PersistenceAdapter

	mu           sync.Mutex
	setCalls     int
	setManyCalls int
	setManyFunc  func(ctx context.Context, records map[string]*domain.Record) error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{PersistenceAdapter: memory.NewAdapter(persistence.Options{})}
}

func (m *mockAdapter) Set(ctx context.Context, rec *domain.Record) error {
	m.mu.Lock()
	m.setCalls++
	m.mu.Unlock()
	return m.PersistenceAdapter.Set(ctx, rec)
}

func (m *mockAdapter) SetMany(ctx context.Context, records map[string]*domain.Record) error {
	m.mu.Lock()
	m.setManyCalls++
	fn := m.setManyFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, records)
	}
	return m.PersistenceAdapter.SetMany(ctx, records)
}

func (m *mockAdapter) counts() (set, setMany int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setCalls, m.setManyCalls
}
