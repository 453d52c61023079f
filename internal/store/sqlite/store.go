// Package sqlite is a single-node store backed by an embedded SQLite file.
// It implements the same domain store interfaces as the PostgreSQL store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	actor_type  TEXT NOT NULL,
	actor_id    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	session_id         TEXT NOT NULL,
	actor              TEXT NOT NULL,
	event_type         TEXT NOT NULL,
	goal_id            TEXT,
	state_hash_before  TEXT,
	state_hash_after   TEXT,
	payload            TEXT NOT NULL DEFAULT '{}',
	ts                 TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events (session_id, ts DESC);

CREATE TABLE IF NOT EXISTS checkpoints (
	id                    TEXT PRIMARY KEY,
	session_id            TEXT NOT NULL,
	goal_statement        TEXT NOT NULL,
	constraints           TEXT NOT NULL DEFAULT '[]',
	plan_step             TEXT,
	summary               TEXT,
	restore_instructions  TEXT,
	coherence_estimate    REAL,
	coherence_confidence  TEXT,
	ts                    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session_ts ON checkpoints (session_id, ts DESC);

CREATE TABLE IF NOT EXISTS return_mappings (
	id              TEXT PRIMARY KEY,
	session_id      TEXT NOT NULL,
	status          TEXT NOT NULL CHECK (status IN ('valid', 'weak', 'failed')),
	failure_reason  TEXT,
	checkpoint_id   TEXT,
	score           REAL NOT NULL DEFAULT 0,
	reconstruction  TEXT,
	ts              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_return_mappings_session_ts ON return_mappings (session_id, ts DESC);

CREATE TABLE IF NOT EXISTS incidents (
	id             TEXT PRIMARY KEY,
	session_id     TEXT NOT NULL,
	incident_type  TEXT NOT NULL,
	severity       TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
	details        TEXT NOT NULL DEFAULT '{}',
	ts             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_session_ts ON incidents (session_id, ts DESC);
`

// tsLayout is fixed width so that lexical order of the stored text matches
// chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the database handle and serves every domain store interface.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=%s&_pragma=%s",
		path,
		url.QueryEscape("busy_timeout(5000)"),
		url.QueryEscape("journal_mode(WAL)"),
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := addColumn(db, "return_mappings", "reconstruction", "TEXT"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// addColumn adds a column to a table created before the column existed.
func addColumn(db *sql.DB, table, column, decl string) error {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Stores returns the domain store set backed by s.
func (s *Store) Stores() domain.Stores {
	return domain.Stores{
		Events:         &EventStore{db: s.db},
		Checkpoints:    &CheckpointStore{db: s.db},
		ReturnMappings: &ReturnMappingStore{db: s.db},
		Incidents:      &IncidentStore{db: s.db},
		Sessions:       &SessionStore{db: s.db},
		Snapshots:      s,
		Export:         s,
		Health:         s,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return translate(s.db.PingContext(ctx))
}

func (s *Store) MissingTables(ctx context.Context) ([]string, error) {
	var missing []string
	for _, t := range domain.RequiredTables {
		var name string
		err := s.db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, t,
		).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			missing = append(missing, t)
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
	}
	return missing, nil
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return store.ErrConflict
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
