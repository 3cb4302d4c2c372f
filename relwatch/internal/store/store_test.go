package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/relwatch/dbopen"
	"github.com/hazyhaar/relwatch/relwatch/internal/state"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestState_InitialRow(t *testing.T) {
	s := testStore(t)
	c, err := s.State().Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Equal(state.Initial()) {
		t.Errorf("got %+v, want Initial", c)
	}
}

func TestState_CommitAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	next := state.Cached{
		LastModifiedAt:     time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		LastContentLocator: "new.xlsx",
		Fingerprint:        []string{"Production", "Imports"},
		RowCount:           2,
	}
	if err := s.State().Commit(ctx, state.Initial(), next); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := s.State().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Equal(next) {
		t.Errorf("got %+v, want %+v", got, next)
	}
}

func TestState_CommitConflict(t *testing.T) {
	// WHAT: Commit refuses when the stored release moved since the snapshot.
	// WHY: Compare-and-swap protects against overlapping runs.
	s := testStore(t)
	ctx := context.Background()
	a := state.Cached{LastModifiedAt: time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), LastContentLocator: "a.xlsx"}
	b := state.Cached{LastModifiedAt: time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC), LastContentLocator: "b.xlsx"}

	if err := s.State().Commit(ctx, state.Initial(), a); err != nil {
		t.Fatalf("commit a: %v", err)
	}
	err := s.State().Commit(ctx, state.Initial(), b)
	if !errors.Is(err, state.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	got, _ := s.State().Load(ctx)
	if !got.Equal(a) {
		t.Errorf("state changed after conflict: %+v", got)
	}
}

func TestState_ReopenKeepsRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relwatch.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	next := state.Cached{
		LastModifiedAt:     time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC),
		LastContentLocator: "new.xlsx",
		Fingerprint:        []string{"k1"},
		RowCount:           1,
	}
	if err := s1.State().Commit(ctx, state.Initial(), next); err != nil {
		t.Fatalf("commit: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.State().Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Equal(next) {
		t.Errorf("schema re-apply lost the record: %+v", got)
	}
}

func TestRunLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	entries := []*RunEntry{
		{ID: "run-1", Outcome: "skipped", Stage: "done", Reason: "stale", StartedAt: 100},
		{ID: "run-2", Outcome: "failed", Stage: "fetching", ErrorKind: "network", StartedAt: 200, FetchAttempts: 5},
		{ID: "run-3", Outcome: "committed", Stage: "done", ArtifactPath: "/clean/x.csv", StartedAt: 300},
	}
	for _, e := range entries {
		if err := s.InsertRun(ctx, e); err != nil {
			t.Fatalf("insert %s: %v", e.ID, err)
		}
	}

	history, err := s.RunHistory(ctx, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history: got %d, want 2", len(history))
	}
	if history[0].ID != "run-3" || history[1].ID != "run-2" {
		t.Errorf("order: got %s, %s", history[0].ID, history[1].ID)
	}
	if history[1].FetchAttempts != 5 {
		t.Errorf("fetch attempts: got %d", history[1].FetchAttempts)
	}

	counts, err := s.CountRuns(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["skipped"] != 1 || counts["failed"] != 1 || counts["committed"] != 1 {
		t.Errorf("counts: %v", counts)
	}
}
