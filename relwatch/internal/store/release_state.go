package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/relwatch/dbopen"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

// StateStore adapts Store to state.Store.
type StateStore struct {
	s *Store
}

// State returns the state.Store view of s.
func (s *Store) State() *StateStore {
	return &StateStore{s: s}
}

var _ state.Store = (*StateStore)(nil)

// Load reads the state record.
func (ss *StateStore) Load(ctx context.Context) (state.Cached, error) {
	return loadState(ctx, ss.s.DB)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadState(ctx context.Context, q queryer) (state.Cached, error) {
	var (
		rec       state.Record
		indexJSON sql.NullString
		rowCount  sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT cached_last_modified, cached_file_name, index_json, row_count
		FROM release_state WHERE id = 1`).
		Scan(&rec.CachedLastModified, &rec.CachedFileName, &indexJSON, &rowCount)
	if err == sql.ErrNoRows {
		return state.Initial(), nil
	}
	if err != nil {
		return state.Cached{}, fmt.Errorf("store: load state: %w", err)
	}
	if indexJSON.Valid {
		if err := json.Unmarshal([]byte(indexJSON.String), &rec.Index); err != nil {
			return state.Cached{}, fmt.Errorf("%w: index_json: %v", state.ErrMalformed, err)
		}
	}
	if rowCount.Valid {
		n := int(rowCount.Int64)
		rec.RowCount = &n
	}
	return state.Decode(rec)
}

// Commit replaces the state row with next inside one transaction, provided
// the stored release still equals prev's.
func (ss *StateStore) Commit(ctx context.Context, prev, next state.Cached) error {
	rec := state.Encode(next)
	var indexJSON sql.NullString
	if rec.Index != nil {
		data, err := json.Marshal(rec.Index)
		if err != nil {
			return fmt.Errorf("store: marshal index: %w", err)
		}
		indexJSON = sql.NullString{String: string(data), Valid: true}
	}
	var rowCount sql.NullInt64
	if rec.RowCount != nil {
		rowCount = sql.NullInt64{Int64: int64(*rec.RowCount), Valid: true}
	}

	return dbopen.RunTx(ctx, ss.s.DB, func(tx *sql.Tx) error {
		cur, err := loadState(ctx, tx)
		if err != nil {
			return err
		}
		if !cur.SameRelease(prev) {
			return fmt.Errorf("%w: stored %s, expected %s", state.ErrConflict, cur.Version(), prev.Version())
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO release_state (id, cached_last_modified, cached_file_name, index_json, row_count, updated_at)
			VALUES (1, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				cached_last_modified = excluded.cached_last_modified,
				cached_file_name = excluded.cached_file_name,
				index_json = excluded.index_json,
				row_count = excluded.row_count,
				updated_at = excluded.updated_at`,
			rec.CachedLastModified, rec.CachedFileName, indexJSON, rowCount, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("store: write state: %w", err)
		}
		return nil
	})
}
