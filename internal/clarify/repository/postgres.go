package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creatoria/clarifier/internal/clarify/session"
	"github.com/creatoria/clarifier/internal/common/errors"
)

// PostgresStore persists sessions in Postgres for multi-instance deployments.
// The layout mirrors the SQLite store: one JSONB document per session plus an
// indexed last_active column for the reaper.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS clarification_sessions (
	id          TEXT PRIMARY KEY,
	data        JSONB NOT NULL,
	last_active TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON clarification_sessions(last_active);
`

// NewPostgresStore connects to Postgres and ensures the session schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to initialize session schema")
	}
	return &PostgresStore{pool: pool}, nil
}

// Create stores a new session.
func (p *PostgresStore) Create(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO clarification_sessions (id, data, last_active) VALUES ($1, $2, $3)`,
		sess.ID, data, sess.LastActive)
	if err != nil {
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

// Get retrieves a session by id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*session.Session, error) {
	var data []byte
	err := p.pool.QueryRow(ctx,
		`SELECT data FROM clarification_sessions WHERE id = $1`, id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, errors.SessionNotFound(id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to query session")
	}

	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, errors.Wrap(err, "failed to decode session")
	}
	return &sess, nil
}

// Save persists the current state of a session.
func (p *PostgresStore) Save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return errors.Wrap(err, "failed to encode session")
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE clarification_sessions SET data = $1, last_active = $2 WHERE id = $3`,
		data, sess.LastActive, sess.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update session")
	}
	if tag.RowsAffected() == 0 {
		return errors.SessionNotFound(sess.ID)
	}
	return nil
}

// Delete removes a session.
func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM clarification_sessions WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// ReapIdle deletes sessions idle since before the cutoff.
func (p *PostgresStore) ReapIdle(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM clarification_sessions WHERE last_active < $1`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to reap idle sessions")
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
