package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/thebridgeproject/bridge/internal/journey"
)

const schema = `
CREATE TABLE IF NOT EXISTS journey_events (
  id          TEXT PRIMARY KEY,
  event_type  TEXT NOT NULL,
  user_type   TEXT NOT NULL,
  session_id  TEXT NOT NULL,
  ts          INTEGER NOT NULL,
  user_id     TEXT,
  path        TEXT,
  user_agent  TEXT,
  is_divine   INTEGER NOT NULL DEFAULT 0,
  metadata    TEXT
);
CREATE INDEX IF NOT EXISTS journey_events_ts_idx ON journey_events (ts);
CREATE INDEX IF NOT EXISTS journey_events_session_idx ON journey_events (session_id);`

// SQLite appends journey events to a local database so the in-memory store
// can be rebuilt after a restart.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the archive at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("archive dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// One writer; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append stores evs in one transaction. Events already archived are skipped.
func (a *SQLite) Append(ctx context.Context, evs []journey.Event) error {
	if len(evs) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT OR IGNORE INTO journey_events
  (id, event_type, user_type, session_id, ts, user_id, path, user_agent, is_divine, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("archive prepare: %w", err)
	}
	defer stmt.Close()

	for _, ev := range evs {
		var meta sql.NullString
		if ev.Metadata != nil {
			b, err := json.Marshal(ev.Metadata)
			if err != nil {
				return fmt.Errorf("archive metadata for %s: %w", ev.ID, err)
			}
			meta = sql.NullString{String: string(b), Valid: true}
		}
		divine := 0
		if ev.IsDivine {
			divine = 1
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID, ev.EventType, ev.UserType, ev.SessionID, ev.Timestamp.UnixMilli(),
			nullable(ev.UserID), nullable(ev.Path), nullable(ev.UserAgent), divine, meta,
		); err != nil {
			return fmt.Errorf("archive insert %s: %w", ev.ID, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit events newer than since, oldest first.
func (a *SQLite) Recent(ctx context.Context, since time.Time, limit int) ([]journey.Event, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT id, event_type, user_type, session_id, ts, user_id, path, user_agent, is_divine, metadata
FROM (
  SELECT * FROM journey_events WHERE ts > ? ORDER BY ts DESC LIMIT ?
) ORDER BY ts ASC`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("archive query: %w", err)
	}
	defer rows.Close()

	var out []journey.Event
	for rows.Next() {
		var (
			ev                     journey.Event
			ts                     int64
			userID, path, ua, meta sql.NullString
			divine                 int
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.UserType, &ev.SessionID, &ts,
			&userID, &path, &ua, &divine, &meta); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		ev.Timestamp = time.UnixMilli(ts).UTC()
		ev.UserID, ev.Path, ev.UserAgent = userID.String, path.String, ua.String
		ev.IsDivine = divine != 0
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("archive metadata for %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the number of archived events.
func (a *SQLite) Count(ctx context.Context) (int64, error) {
	var n int64
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journey_events`).Scan(&n)
	return n, err
}

// Ping checks the database handle.
func (a *SQLite) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *SQLite) Close() error {
	return a.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
