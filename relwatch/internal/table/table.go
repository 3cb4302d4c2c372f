// Package table extracts the release table from a spreadsheet and encodes
// the cleaned result as CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnreadable is returned when the bytes are not a readable workbook.
	ErrUnreadable = errors.New("table: unreadable workbook")
	// ErrSheetNotFound is returned when the configured sheet is absent.
	ErrSheetNotFound = errors.New("table: sheet not found")
	// ErrSentinelNotFound is returned when no row starts with the header sentinel.
	ErrSentinelNotFound = errors.New("table: header sentinel not found")
	// ErrEmptySheet is returned when the sheet has no rows at all.
	ErrEmptySheet = errors.New("table: sheet is empty")
)

// annotation matches publisher markers such as "[x]" or "[note 3]".
var annotation = regexp.MustCompile(`\[.*?\]`)

// Options selects and labels the table.
type Options struct {
	Sheet    string // e.g. "Quarter"
	Sentinel string // first cell of the header row, e.g. "Column1"
	KeyName  string // name given to the sentinel column, e.g. "Key"
}

func (o *Options) defaults() {
	if o.Sheet == "" {
		o.Sheet = "Quarter"
	}
	if o.Sentinel == "" {
		o.Sentinel = "Column1"
	}
	if o.KeyName == "" {
		o.KeyName = "Key"
	}
}

// Table is a cleaned table. Column 0 is the key column; every row has
// len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Cell addresses one value in a Table.
type Cell struct {
	Row    int // 0-based data row
	Column string
}

// Extract reads the workbook in r and returns the table below the header
// sentinel row of the configured sheet.
func Extract(r io.Reader, opts Options) (*Table, error) {
	opts.defaults()

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(opts.Sheet); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrSheetNotFound, opts.Sheet, f.GetSheetList())
	}
	rows, err := f.GetRows(opts.Sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptySheet, opts.Sheet)
	}
	return fromRows(rows, opts)
}

func fromRows(rows [][]string, opts Options) (*Table, error) {
	header := -1
	for i, row := range rows {
		if len(row) > 0 && strings.TrimSpace(row[0]) == opts.Sentinel {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, fmt.Errorf("%w: %q", ErrSentinelNotFound, opts.Sentinel)
	}

	width := len(rows[header])
	for _, row := range rows[header+1:] {
		width = max(width, len(row))
	}

	t := &Table{Columns: headers(rows[header], width, opts.KeyName)}

	for _, row := range rows[header+1:] {
		cells := make([]string, width)
		blank := true
		for j := range cells {
			if j < len(row) {
				cells[j] = cleanCell(row[j])
			}
			if cells[j] != "" {
				blank = false
			}
		}
		if !blank {
			t.Rows = append(t.Rows, cells)
		}
	}
	return t, nil
}

// headers cleans header cells, names the first one key, names empty ones
// "Unnamed: i" and disambiguates duplicates with ".n" suffixes. Every
// returned name is distinct.
func headers(row []string, width int, key string) []string {
	out := make([]string, width)
	taken := make(map[string]bool, width)
	next := make(map[string]int, width)
	for i := range out {
		var h string
		switch {
		case i == 0:
			h = key
		case i < len(row):
			h = cleanHeader(row[i])
		}
		if h == "" {
			h = "Unnamed: " + strconv.Itoa(i)
		}
		if taken[h] {
			base := h
			for taken[h] {
				next[base]++
				h = base + "." + strconv.Itoa(next[base])
			}
		}
		taken[h] = true
		out[i] = h
	}
	return out
}

func cleanHeader(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ").Replace(s)
	s = annotation.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func cleanCell(s string) string {
	return strings.TrimSpace(annotation.ReplaceAllString(s, ""))
}

// Keys returns the key column in row order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		keys[i] = row[0]
	}
	return keys
}

// RowCount is the number of data rows.
func (t *Table) RowCount() int { return len(t.Rows) }

// MissingCells lists every empty cell.
func (t *Table) MissingCells() []Cell {
	var out []Cell
	for i, row := range t.Rows {
		for j, v := range row {
			if v == "" {
				out = append(out, Cell{Row: i, Column: t.Columns[j]})
			}
		}
	}
	return out
}

// WriteCSV encodes the table with a header line, key column first.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
