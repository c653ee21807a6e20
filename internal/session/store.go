package session

import (
	"context"
	"sync"
	"time"
)

// Store keeps session states between interactions.
type Store interface {
	// Load returns the state of a session, or ErrSessionNotFound.
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a Store held in process memory. States are copied in and out so callers never share
// a state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]*State),
	}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, id string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st.clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.ID] = state.clone()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, id)
	return nil
}

// Expire removes the sessions that have been inactive for longer than idle and returns their ids.
func (m *MemoryStore) Expire(idle time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var removed []string
	for id, st := range m.states {
		if now.Sub(st.LastActive) > idle {
			delete(m.states, id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.states)
}
