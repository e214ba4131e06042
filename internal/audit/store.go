// Package audit persists governance decisions to SQLite for offline
// abuse analysis. It records what was decided, never limiter state:
// windows always start empty on process start.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Decision is one recorded governance event.
type Decision struct {
	At        time.Time
	Component string // "admission" or "budget"
	Outcome   string // allowed/limited/rejected/wait/quota_exceeded
	ClientKey string
	Model     string
	Path      string
	WaitMS    int64
}

// Store is a SQLite-backed decision log. Writes are best effort; callers
// log failures and move on rather than letting audit veto a decision.
type Store struct {
	db *sql.DB
}

// Open creates or opens the audit database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TIMESTAMP NOT NULL,
			component TEXT NOT NULL,
			outcome TEXT NOT NULL,
			client_key TEXT,
			model TEXT,
			path TEXT,
			wait_ms INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_at ON decisions(at)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(outcome)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_client ON decisions(client_key)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends one decision.
func (s *Store) Record(ctx context.Context, d Decision) error {
	if d.At.IsZero() {
		d.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (at, component, outcome, client_key, model, path, wait_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.At.UTC(), d.Component, d.Outcome, d.ClientKey, d.Model, d.Path, d.WaitMS,
	)
	return err
}

// RecentDenials returns up to limit denial decisions since the given
// time, newest first.
func (s *Store) RecentDenials(ctx context.Context, since time.Time, limit int) ([]Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, component, outcome, client_key, model, path, wait_ms
		 FROM decisions
		 WHERE at >= ? AND outcome IN ('limited', 'rejected', 'quota_exceeded')
		 ORDER BY at DESC
		 LIMIT ?`,
		since.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.At, &d.Component, &d.Outcome, &d.ClientKey, &d.Model, &d.Path, &d.WaitMS); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
