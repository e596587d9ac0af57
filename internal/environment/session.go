package environment

import (
	"context"
	"sync"
)

// SessionStore persists per-session key/value pairs. The resolver keeps the
// last explicitly requested label there.
type SessionStore interface {
	Get(ctx context.Context, sessionID, key string) (string, bool, error)
	Set(ctx context.Context, sessionID, key, value string) error
}

// MemorySessionStore is a process-local SessionStore.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]string
}

// NewMemorySessionStore returns an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]map[string]string)}
}

// Get implements SessionStore.
func (m *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.sessions[sessionID][key]
	return v, ok, nil
}

// Set implements SessionStore.
func (m *MemorySessionStore) Set(_ context.Context, sessionID, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	values := m.sessions[sessionID]
	if values == nil {
		values = make(map[string]string)
		m.sessions[sessionID] = values
	}
	values[key] = value
	return nil
}
