// Package state defines the persisted ingest state (the last committed
// release and the shape of the last accepted table) and a JSON-file backend
// for it.
//
// A state record is replaced whole or not at all, and every commit is a
// compare-and-swap on the release it was derived from: a writer holding a
// stale snapshot gets ErrConflict instead of overwriting a newer commit.
package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrConflict is returned by Commit when the stored release no longer
// matches the snapshot the caller started from.
var ErrConflict = errors.New("state: concurrent commit detected")

// ErrMalformed is returned when a stored record exists but cannot be decoded.
var ErrMalformed = errors.New("state: malformed state record")

// Version is a publisher's claim about the currently published release.
type Version struct {
	ModifiedAt     time.Time `json:"modified_at"`
	ContentLocator string    `json:"content_locator"`
}

func (v Version) String() string {
	return v.ModifiedAt.Format(time.RFC3339) + " " + v.ContentLocator
}

// Cached is the state carried between runs.
type Cached struct {
	LastModifiedAt     time.Time `json:"last_modified_at"`
	LastContentLocator string    `json:"last_content_locator"`
	// Fingerprint is the ordered key-column values of the last accepted
	// table. Empty until the first successful ingest.
	Fingerprint []string `json:"fingerprint,omitempty"`
	RowCount    int      `json:"row_count"`
}

// Initial returns the first-run state: the earliest representable time, no
// locator, no fingerprint.
func Initial() Cached {
	return Cached{}
}

// IsBaseline reports whether no table has been accepted yet.
func (c Cached) IsBaseline() bool {
	return len(c.Fingerprint) == 0
}

// Version returns the release this state was committed for.
func (c Cached) Version() Version {
	return Version{ModifiedAt: c.LastModifiedAt, ContentLocator: c.LastContentLocator}
}

// SameRelease reports whether c and o describe the same committed release.
// This is the compare half of every compare-and-swap.
func (c Cached) SameRelease(o Cached) bool {
	return c.LastModifiedAt.Equal(o.LastModifiedAt) && c.LastContentLocator == o.LastContentLocator
}

// Equal reports whether every field of c and o matches.
func (c Cached) Equal(o Cached) bool {
	return c.SameRelease(o) && c.RowCount == o.RowCount && slices.Equal(c.Fingerprint, o.Fingerprint)
}

// Store reads and atomically replaces the state record.
type Store interface {
	Load(ctx context.Context) (Cached, error)
	// Commit replaces the record with next if the stored release still
	// equals prev's; otherwise it returns ErrConflict and writes nothing.
	Commit(ctx context.Context, prev, next Cached) error
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

// ParseTimestamp parses an ISO-8601 timestamp. It accepts RFC 3339, the
// space-separated form written by older cache files, and zone-less forms
// (read as UTC).
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("state: unrecognised timestamp %q", s)
}

// FormatTimestamp is the canonical encoding used in state records.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
