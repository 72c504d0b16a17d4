package routestate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps routes in a map. Tests inject one per run.
type MemoryStore struct {
	mu     sync.RWMutex
	routes map[string]State
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{routes: make(map[string]State), now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, id string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.routes[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (m *MemoryStore) Upsert(_ context.Context, id string, st State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = m.now()
	}
	m.mu.Lock()
	m.routes[id] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return ErrNotFound
	}
	delete(m.routes, id)
	return nil
}

// Len returns the number of stored routes.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.routes)
}
