package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS rate_limits (
  category   TEXT        NOT NULL,
  identifier TEXT        NOT NULL,
  count      INTEGER     NOT NULL,
  reset_at   TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (category, identifier)
);
CREATE INDEX IF NOT EXISTS rate_limits_reset_at_idx ON rate_limits (reset_at);`

// takeSQL opens a window or counts into the current one in a single
// statement. A denied request leaves count at max+1 so the caller can tell
// "just reached max" apart from "already over".
const takeSQL = `
INSERT INTO rate_limits (category, identifier, count, reset_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (category, identifier) DO UPDATE SET
  count = CASE
    WHEN rate_limits.reset_at < $4 THEN 1
    WHEN rate_limits.count <= $5 THEN rate_limits.count + 1
    ELSE rate_limits.count
  END,
  reset_at = CASE
    WHEN rate_limits.reset_at < $4 THEN EXCLUDED.reset_at
    ELSE rate_limits.reset_at
  END
RETURNING count, reset_at`

const peekSQL = `SELECT count, reset_at FROM rate_limits WHERE category = $1 AND identifier = $2`

const sweepSQL = `DELETE FROM rate_limits WHERE reset_at < $1`

// pgxConn is the subset of *pgxpool.Pool the store needs.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps counters in a shared table so that every instance
// enforces the same limit.
type PostgresStore struct {
	conn pgxConn
	pool *pgxpool.Pool
}

// ConnectPostgres opens a pool for dsn and makes sure the table exists.
func ConnectPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	s := &PostgresStore{conn: pool, pool: pool}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the counter table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("rate limit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Take(ctx context.Context, key Key, rule Rule, now time.Time) (Entry, bool, error) {
	var count int
	var reset time.Time
	row := s.conn.QueryRow(ctx, takeSQL,
		key.Category, key.Identifier, now.Add(rule.Window), now, rule.Max)
	if err := row.Scan(&count, &reset); err != nil {
		return Entry{}, false, fmt.Errorf("rate limit take %s/%s: %w", key.Category, key.Identifier, err)
	}
	if count > rule.Max {
		return Entry{Count: rule.Max, ResetTime: reset}, false, nil
	}
	return Entry{Count: count, ResetTime: reset}, true, nil
}

func (s *PostgresStore) Peek(ctx context.Context, key Key, now time.Time) (Entry, bool, error) {
	var e Entry
	err := s.conn.QueryRow(ctx, peekSQL, key.Category, key.Identifier).Scan(&e.Count, &e.ResetTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("rate limit peek %s/%s: %w", key.Category, key.Identifier, err)
	}
	if e.expired(now) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	ct, err := s.conn.Exec(ctx, sweepSQL, now)
	if err != nil {
		return 0, fmt.Errorf("rate limit sweep: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// Ready pings the database.
func (s *PostgresStore) Ready(ctx context.Context) error {
	var one int
	return s.conn.QueryRow(ctx, "select 1").Scan(&one)
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
