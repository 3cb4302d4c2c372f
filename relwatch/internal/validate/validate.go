// Package validate checks a cleaned table against the shape of the last
// accepted release.
package validate

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/relwatch/relwatch/internal/state"
	"github.com/hazyhaar/relwatch/relwatch/internal/table"
)

// maxListed caps how many offending keys or cells a reason names.
const maxListed = 5

// Error lists every reason a table was rejected.
type Error struct {
	Reasons []string
}

func (e *Error) Error() string {
	return "validate: " + strings.Join(e.Reasons, "; ")
}

// Validate returns nil when t may be committed on top of cached, or an
// *Error carrying every failed check. On the baseline (no accepted shape
// yet) only the intrinsic checks apply.
func Validate(t *table.Table, cached state.Cached) error {
	var reasons []string

	if t.RowCount() == 0 {
		reasons = append(reasons, "table has no data rows")
	}

	keys := t.Keys()
	if !cached.IsBaseline() {
		if r := compareFingerprint(keys, cached.Fingerprint); r != "" {
			reasons = append(reasons, r)
		}
		if t.RowCount() != cached.RowCount {
			reasons = append(reasons, fmt.Sprintf("row count %d, expected %d", t.RowCount(), cached.RowCount))
		}
	}

	if dups := duplicates(keys); len(dups) > 0 {
		reasons = append(reasons, fmt.Sprintf("duplicate keys: %s", list(dups)))
	}

	if missing := t.MissingCells(); len(missing) > 0 {
		cells := make([]string, len(missing))
		for i, c := range missing {
			cells[i] = fmt.Sprintf("%s@%d", c.Column, c.Row)
		}
		reasons = append(reasons, fmt.Sprintf("%d missing cell(s): %s", len(missing), list(cells)))
	}

	if len(reasons) == 0 {
		return nil
	}
	return &Error{Reasons: reasons}
}

// compareFingerprint requires the exact same key sequence. A permutation
// is a mismatch.
func compareFingerprint(got, want []string) string {
	n := min(len(got), len(want))
	for i := 0; i < n; i++ {
		if got[i] != want[i] {
			return fmt.Sprintf("key mismatch at row %d: %q, expected %q", i, got[i], want[i])
		}
	}
	if len(got) != len(want) {
		return fmt.Sprintf("key sequence length %d, expected %d", len(got), len(want))
	}
	return ""
}

func duplicates(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	var dups []string
	for _, k := range keys {
		if seen[k] {
			dups = append(dups, fmt.Sprintf("%q", k))
			continue
		}
		seen[k] = true
	}
	return dups
}

func list(items []string) string {
	if len(items) <= maxListed {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:maxListed], ", ") + fmt.Sprintf(" (+%d more)", len(items)-maxListed)
}
