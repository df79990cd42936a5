package repository

import (
	"context"
	"sync"
	"time"

	"github.com/creatoria/clarifier/internal/clarify/session"
	"github.com/creatoria/clarifier/internal/common/errors"
)

// MemoryStore is an in-memory Store for single-instance deployments and
// tests. It stores and returns deep copies, so a loaded session never aliases
// state another request is mutating; changes become visible only through Save.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
	}
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return errors.BadRequest("session '" + s.ID + "' already exists")
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Get retrieves a session by id.
func (m *MemoryStore) Get(_ context.Context, id string) (*session.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[id]
	if !exists {
		return nil, errors.SessionNotFound(id)
	}
	return s.Clone(), nil
}

// Save persists the current state of a session.
func (m *MemoryStore) Save(_ context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; !exists {
		return errors.SessionNotFound(s.ID)
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// Delete removes a session.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

// ReapIdle deletes sessions idle since before the cutoff.
func (m *MemoryStore) ReapIdle(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped int
	for id, s := range m.sessions {
		if s.LastActive.Before(cutoff) {
			delete(m.sessions, id)
			reaped++
		}
	}
	return reaped, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
