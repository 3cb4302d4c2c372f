// Package store is the SQLite persistence layer for relwatch: the single-row
// release state (a state.Store) and the append-only ingest run log.
package store

import (
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/relwatch/dbopen"
)

// Schema is applied on every Open; every statement is idempotent.
const Schema = `
-- The one state record. id is pinned to 1.
CREATE TABLE IF NOT EXISTS release_state (
    id                   INTEGER PRIMARY KEY CHECK (id = 1),
    cached_last_modified TEXT NOT NULL,
    cached_file_name     TEXT NOT NULL DEFAULT '',
    index_json           TEXT,
    row_count            INTEGER,
    updated_at           INTEGER NOT NULL
);
INSERT OR IGNORE INTO release_state (id, cached_last_modified, cached_file_name, updated_at)
VALUES (1, '0001-01-01T00:00:00Z', '', 0);

-- One row per RunOnce invocation.
CREATE TABLE IF NOT EXISTS ingest_runs (
    id               TEXT PRIMARY KEY,
    outcome          TEXT NOT NULL,
    stage            TEXT NOT NULL,
    reason           TEXT NOT NULL DEFAULT '',
    error_kind       TEXT NOT NULL DEFAULT '',
    version_modified TEXT NOT NULL DEFAULT '',
    content_locator  TEXT NOT NULL DEFAULT '',
    raw_path         TEXT NOT NULL DEFAULT '',
    artifact_path    TEXT NOT NULL DEFAULT '',
    fetch_attempts   INTEGER NOT NULL DEFAULT 0,
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    started_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_time ON ingest_runs(started_at DESC);
`

// Store wraps the relwatch database.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies Schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewStore wraps an already-opened database. The caller applies Schema.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
