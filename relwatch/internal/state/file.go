package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/relwatch/horosafe"
)

// Record is the persisted layout, shared with the legacy cache.json file.
// index and row_count are absent until the first accepted table.
type Record struct {
	CachedLastModified string   `json:"cached_last_modified"`
	CachedFileName     string   `json:"cached_file_name"`
	Index              []string `json:"index,omitempty"`
	RowCount           *int     `json:"row_count,omitempty"`
}

// Encode converts c to its persisted layout.
func Encode(c Cached) Record {
	r := Record{
		CachedLastModified: FormatTimestamp(c.LastModifiedAt),
		CachedFileName:     c.LastContentLocator,
	}
	if !c.IsBaseline() {
		n := c.RowCount
		r.Index = c.Fingerprint
		r.RowCount = &n
	}
	return r
}

// Decode converts a persisted record back to state.
func Decode(r Record) (Cached, error) {
	t, err := ParseTimestamp(r.CachedLastModified)
	if err != nil {
		return Cached{}, fmt.Errorf("%w: cached_last_modified: %v", ErrMalformed, err)
	}
	c := Cached{
		LastModifiedAt:     t,
		LastContentLocator: r.CachedFileName,
		Fingerprint:        r.Index,
	}
	if r.RowCount != nil {
		c.RowCount = *r.RowCount
	}
	return c, nil
}

// FileStore keeps the state record in a single JSON file. Writes go through
// write-then-rename; cross-process commits are serialised by a sibling
// ".lock" file.
type FileStore struct {
	path      string
	mu        sync.Mutex
	lockWait  time.Duration
	lockStale time.Duration
}

// NewFileStore returns a FileStore for path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, lockWait: 5 * time.Second, lockStale: 2 * time.Minute}
}

// Load returns the stored state, or Initial if the file does not exist.
func (s *FileStore) Load(ctx context.Context) (Cached, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Initial(), nil
	}
	if err != nil {
		return Cached{}, fmt.Errorf("state: read %s: %w", s.path, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Cached{}, fmt.Errorf("%w: %s: %v", ErrMalformed, s.path, err)
	}
	return Decode(r)
}

// Commit atomically replaces the file with next if it still holds prev's
// release.
func (s *FileStore) Commit(ctx context.Context, prev, next Cached) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	cur, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if !cur.SameRelease(prev) {
		return fmt.Errorf("%w: stored %s, expected %s", ErrConflict, cur.Version(), prev.Version())
	}

	data, err := json.MarshalIndent(Encode(next), "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	return horosafe.WriteFileAtomic(s.path, 0o644, func(w io.Writer) error {
		_, err := w.Write(append(data, '\n'))
		return err
	})
}

// lock creates path.lock exclusively, waiting up to lockWait. A lock older
// than lockStale is treated as left over from a crashed process.
func (s *FileStore) lock(ctx context.Context) (func(), error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("state: mkdir: %w", err)
	}
	deadline := time.Now().Add(s.lockWait)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("state: lock: %w", err)
		}
		if fi, statErr := os.Stat(lockPath); statErr == nil && time.Since(fi.ModTime()) > s.lockStale {
			os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("state: lock %s held by another process", lockPath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}
