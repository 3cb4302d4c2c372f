package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/relwatch/relwatch/internal/state"
	"github.com/hazyhaar/relwatch/relwatch/internal/table"
)

func tbl(keys ...string) *table.Table {
	t := &table.Table{Columns: []string{"Key", "Q1"}}
	for _, k := range keys {
		t.Rows = append(t.Rows, []string{k, "1"})
	}
	return t
}

func accepted(keys ...string) state.Cached {
	return state.Cached{
		LastModifiedAt:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		LastContentLocator: "old.xlsx",
		Fingerprint:        keys,
		RowCount:           len(keys),
	}
}

func reasons(t *testing.T, err error) []string {
	t.Helper()
	var ve *Error
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *Error", err)
	}
	return ve.Reasons
}

func TestValidate_Accepts(t *testing.T) {
	if err := Validate(tbl("a", "b", "c"), accepted("a", "b", "c")); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_BaselineSkipsShapeChecks(t *testing.T) {
	// WHAT: With no accepted shape yet, any well-formed table is accepted.
	// WHY: The first ingest establishes the fingerprint.
	if err := Validate(tbl("a", "b"), state.Initial()); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidate_PermutationRejected(t *testing.T) {
	// WHAT: Same keys in a different order are rejected.
	// WHY: Downstream consumers address rows by position.
	r := reasons(t, Validate(tbl("b", "a", "c"), accepted("a", "b", "c")))
	if len(r) != 1 || !strings.Contains(r[0], "key mismatch at row 0") {
		t.Errorf("reasons: %q", r)
	}
}

func TestValidate_RowCountAndLength(t *testing.T) {
	r := reasons(t, Validate(tbl("a", "b"), accepted("a", "b", "c")))
	if len(r) != 2 {
		t.Fatalf("reasons: %q, want length and row count", r)
	}
	if !strings.Contains(r[0], "length 2, expected 3") || !strings.Contains(r[1], "row count 2, expected 3") {
		t.Errorf("reasons: %q", r)
	}
}

func TestValidate_MissingCellsAllReported(t *testing.T) {
	// WHAT: Every failed check is reported, not just the first.
	x := tbl("a", "b", "c")
	x.Rows[0][1] = ""
	x.Rows[1][1] = ""
	x.Rows[2][1] = ""
	r := reasons(t, Validate(x, accepted("a", "b", "x")))
	if len(r) != 2 {
		t.Fatalf("reasons: %q", r)
	}
	if !strings.Contains(r[1], "3 missing cell(s)") || !strings.Contains(r[1], "Q1@0") {
		t.Errorf("missing reason: %q", r[1])
	}
}

func TestValidate_DuplicatesAndEmpty(t *testing.T) {
	r := reasons(t, Validate(tbl("a", "a"), state.Initial()))
	if len(r) != 1 || !strings.Contains(r[0], `duplicate keys: "a"`) {
		t.Errorf("duplicates: %q", r)
	}
	r = reasons(t, Validate(tbl(), state.Initial()))
	if len(r) != 1 || r[0] != "table has no data rows" {
		t.Errorf("empty: %q", r)
	}
}

func TestList_Truncates(t *testing.T) {
	got := list([]string{"1", "2", "3", "4", "5", "6", "7"})
	if got != "1, 2, 3, 4, 5 (+2 more)" {
		t.Errorf("list: %q", got)
	}
}
