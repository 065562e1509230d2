// Package sqlite persists the healing subsystem's event log and learned
// recovery outcomes in a single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	component  TEXT NOT NULL DEFAULT '',
	issue_id   TEXT NOT NULL DEFAULT '',
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	data       TEXT NOT NULL DEFAULT '{}',
	timestamp  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_component ON events(component);
CREATE INDEX IF NOT EXISTS idx_events_issue ON events(issue_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS action_outcomes (
	component             TEXT NOT NULL,
	action                TEXT NOT NULL,
	attempts              INTEGER NOT NULL DEFAULT 0,
	successes             INTEGER NOT NULL DEFAULT 0,
	consecutive_failures  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (component, action)
);

CREATE TABLE IF NOT EXISTS plan_counters (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	total_plans      INTEGER NOT NULL DEFAULT 0,
	successful_plans INTEGER NOT NULL DEFAULT 0
);
`

// Store is the SQLite-backed event log and outcome store.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, initializing the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	// WAL mode so event writes do not block report reads.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle for health checks against the store.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
