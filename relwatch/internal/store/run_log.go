package store

import (
	"context"
	"fmt"
)

// RunEntry is one ingest run outcome.
type RunEntry struct {
	ID              string `json:"id"`
	Outcome         string `json:"outcome"`
	Stage           string `json:"stage"`
	Reason          string `json:"reason"`
	ErrorKind       string `json:"error_kind,omitempty"`
	VersionModified string `json:"version_modified,omitempty"`
	ContentLocator  string `json:"content_locator,omitempty"`
	RawPath         string `json:"raw_path,omitempty"`
	ArtifactPath    string `json:"artifact_path,omitempty"`
	FetchAttempts   int    `json:"fetch_attempts"`
	DurationMs      int64  `json:"duration_ms"`
	StartedAt       int64  `json:"started_at"`
}

// InsertRun appends a run outcome.
func (s *Store) InsertRun(ctx context.Context, e *RunEntry) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, outcome, stage, reason, error_kind, version_modified,
		content_locator, raw_path, artifact_path, fetch_attempts, duration_ms, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Outcome, e.Stage, e.Reason, e.ErrorKind, e.VersionModified,
		e.ContentLocator, e.RawPath, e.ArtifactPath, e.FetchAttempts, e.DurationMs, e.StartedAt,
	)
	return err
}

// RunHistory returns the most recent runs, newest first.
func (s *Store) RunHistory(ctx context.Context, limit int) ([]*RunEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, outcome, stage, reason, error_kind, version_modified,
		content_locator, raw_path, artifact_path, fetch_attempts, duration_ms, started_at
		FROM ingest_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RunEntry
	for rows.Next() {
		var e RunEntry
		if err := rows.Scan(&e.ID, &e.Outcome, &e.Stage, &e.Reason, &e.ErrorKind,
			&e.VersionModified, &e.ContentLocator, &e.RawPath, &e.ArtifactPath,
			&e.FetchAttempts, &e.DurationMs, &e.StartedAt); err != nil {
			return nil, fmt.Errorf("scan ingest run: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// CountRuns returns run counts keyed by outcome.
func (s *Store) CountRuns(ctx context.Context) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM ingest_runs GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
