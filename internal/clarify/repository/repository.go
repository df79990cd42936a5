// Package repository defines persistence for clarification sessions and
// provides memory, SQLite and Postgres backed implementations.
package repository

import (
	"context"
	"time"

	"github.com/creatoria/clarifier/internal/clarify/session"
)

// Store persists clarification sessions. Implementations do not serialize
// concurrent access to the same session; the service layer owns that.
type Store interface {
	// Create stores a new session. Fails if the id already exists.
	Create(ctx context.Context, s *session.Session) error

	// Get retrieves a session by id. Returns a session not found error for
	// unknown or expired ids.
	Get(ctx context.Context, id string) (*session.Session, error)

	// Save persists the current state of an existing session.
	Save(ctx context.Context, s *session.Session) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// ReapIdle deletes sessions whose last activity is before the cutoff
	// and returns how many were removed.
	ReapIdle(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the store's resources.
	Close() error
}
