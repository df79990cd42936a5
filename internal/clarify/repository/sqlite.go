package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/creatoria/clarifier/internal/clarify/session"
	"github.com/creatoria/clarifier/internal/common/errors"
)

// SQLiteStore persists sessions in a local SQLite database. Sessions are
// stored as JSON documents; last_active is kept in its own column so the
// reaper can filter without decoding rows.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS clarification_sessions (
	id          TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	last_active TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON clarification_sessions(last_active);
`

// NewSQLiteStore opens (and if needed creates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}

	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize session schema")
	}

	return &SQLiteStore{db: db}, nil
}

// Create stores a new session.
func (s *SQLiteStore) Create(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clarification_sessions (id, data, last_active) VALUES (?, ?, ?)`,
		sess.ID, string(data), sess.LastActive)
	if err != nil {
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

// Get retrieves a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM clarification_sessions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.SessionNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query session")
	}

	var sess session.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, errors.Wrap(err, "failed to decode session")
	}
	return &sess, nil
}

// Save persists the current state of a session.
func (s *SQLiteStore) Save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE clarification_sessions SET data = ?, last_active = ? WHERE id = ?`,
		string(data), sess.LastActive, sess.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.SessionNotFound(sess.ID)
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM clarification_sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// ReapIdle deletes sessions idle since before the cutoff.
func (s *SQLiteStore) ReapIdle(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM clarification_sessions WHERE last_active < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reap idle sessions")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
