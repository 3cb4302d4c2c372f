// Package detect decides whether a resolved release is worth ingesting.
package detect

import "github.com/hazyhaar/relwatch/relwatch/internal/state"

// Decision is the outcome of comparing a release against committed state.
type Decision int

const (
	// Stale: the release is not newer than the committed one. The common
	// case on every poll; the file is never downloaded.
	Stale Decision = iota
	// Unchanged: the timestamp advanced but the locator did not. The
	// publisher re-stamped its metadata without a new file.
	Unchanged
	// New: newer timestamp and a different locator.
	New
)

func (d Decision) String() string {
	switch d {
	case Stale:
		return "stale"
	case Unchanged:
		return "unchanged"
	case New:
		return "new"
	default:
		return "unknown"
	}
}

// Decide compares current against cached. Pure.
func Decide(current state.Version, cached state.Cached) Decision {
	if !current.ModifiedAt.After(cached.LastModifiedAt) {
		return Stale
	}
	if current.ContentLocator == cached.LastContentLocator {
		return Unchanged
	}
	return New
}

// Candidate pairs a release with its decision.
type Candidate struct {
	Version  state.Version
	Decision Decision
}

// Pick evaluates every release independently and returns the newest New
// one. ok is false when none is New; best then carries the most telling
// non-New candidate (Unchanged over Stale) for reporting. An empty input
// returns ok=false and a zero best.
func Pick(versions []state.Version, cached state.Cached) (best Candidate, ok bool) {
	best.Decision = -1
	for _, v := range versions {
		c := Candidate{Version: v, Decision: Decide(v, cached)}
		switch {
		case c.Decision > best.Decision:
			best = c
		case c.Decision == best.Decision && c.Version.ModifiedAt.After(best.Version.ModifiedAt):
			best = c
		}
	}
	if best.Decision < 0 {
		return Candidate{}, false
	}
	return best, best.Decision == New
}
