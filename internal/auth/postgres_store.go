package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions to a Postgres table, allowing multiple
// gateway replicas to share authentication state.
type PostgresStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTimeout bounds individual store operations. Zero disables the bound.
func WithTimeout(timeout time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

const postgresSessionSchema = `
CREATE TABLE IF NOT EXISTS folder_sessions (
    token TEXT PRIMARY KEY,
    folders TEXT[] NOT NULL DEFAULT '{}',
    expires_at TIMESTAMPTZ NOT NULL,
    absolute_expires_at TIMESTAMPTZ NOT NULL
)`

// NewPostgresStore opens a Postgres-backed session store using the provided DSN
// and ensures the session table exists.
func NewPostgresStore(dsn string, opts ...PostgresOption) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres session dsn required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres session config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres session pool: %w", err)
	}
	store := &PostgresStore{pool: pool}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	ctx, cancel := store.operationContext()
	defer cancel()
	if _, err := pool.Exec(ctx, postgresSessionSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure session table: %w", err)
	}
	return store, nil
}

// Close releases the Postgres connection pool resources.
func (s *PostgresStore) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Save stores or updates the session record.
func (s *PostgresStore) Save(record Record) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	ctx, cancel := s.operationContext()
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO folder_sessions (token, folders, expires_at, absolute_expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (token) DO UPDATE SET
    folders = EXCLUDED.folders,
    expires_at = EXCLUDED.expires_at,
    absolute_expires_at = EXCLUDED.absolute_expires_at
`, record.Token, record.Folders, record.ExpiresAt.UTC(), record.AbsoluteExpiresAt.UTC())
	return err
}

// Get fetches the session record for the provided token.
func (s *PostgresStore) Get(token string) (Record, bool, error) {
	if s.pool == nil {
		return Record{}, false, fmt.Errorf("postgres session pool not configured")
	}
	ctx, cancel := s.operationContext()
	defer cancel()
	row := s.pool.QueryRow(ctx, `
SELECT folders, expires_at, absolute_expires_at
FROM folder_sessions
WHERE token = $1
`, token)
	record := Record{Token: token}
	if err := row.Scan(&record.Folders, &record.ExpiresAt, &record.AbsoluteExpiresAt); err != nil {
		if isNoRows(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	return record, true, nil
}

// Delete removes the session token.
func (s *PostgresStore) Delete(token string) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	ctx, cancel := s.operationContext()
	defer cancel()
	_, err := s.pool.Exec(ctx, `DELETE FROM folder_sessions WHERE token = $1`, token)
	return err
}

// PurgeExpired deletes expired sessions from the table.
func (s *PostgresStore) PurgeExpired(now time.Time) error {
	if s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	ctx, cancel := s.operationContext()
	defer cancel()
	_, err := s.pool.Exec(ctx, `
DELETE FROM folder_sessions
WHERE expires_at <= $1 OR absolute_expires_at <= $1
`, now.UTC())
	return err
}

// Ping reports whether the backing database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres session pool not configured")
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) operationContext() (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(context.Background(), s.timeout)
	}
	return context.Background(), func() {}
}

func isNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows)
}
