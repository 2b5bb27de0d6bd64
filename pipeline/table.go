package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Table is an uploaded batch: a header row and N data rows of raw cells.
type Table struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// ReadCSV parses a comma-separated upload. The input is decoded from charset
// (any WHATWG encoding label) and a leading byte order mark is honoured.
func ReadCSV(r io.Reader, charset string) (*Table, error) {
	if charset == "" {
		charset = "utf-8"
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported charset %q", charset), Err: err}
	}
	reader := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())))

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &FormatError{Reason: "upload is empty"}
	}
	if err != nil {
		return nil, &FormatError{Reason: "cannot parse header", Err: err}
	}
	if err := checkHeaderNames(header); err != nil {
		return nil, err
	}

	table := &Table{Header: header}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			row := len(table.Rows) + 1
			if errors.As(err, &parseErr) {
				// line 1 is the header
				row = parseErr.StartLine - 1
			}
			return nil, &FormatError{Row: row, Reason: "malformed record", Err: err}
		}
		table.Rows = append(table.Rows, record)
	}
	if len(table.Rows) == 0 {
		return nil, &FormatError{Reason: "upload has a header but no data rows"}
	}
	return table, nil
}

func checkHeaderNames(header []string) error {
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		if strings.TrimSpace(name) == "" {
			return &FormatError{Reason: fmt.Sprintf("header column %d has no name", i+1)}
		}
		if seen[name] {
			return &FormatError{Column: name, Reason: "duplicate header column"}
		}
		seen[name] = true
	}
	return nil
}

// CheckHeader fails when the header names a column outside expected. A file
// with the wrong delimiter shows up here as one unexpected column.
func (t *Table) CheckHeader(expected []string) error {
	allowed := make(map[string]bool, len(expected))
	for _, name := range expected {
		allowed[name] = true
	}
	var unexpected []string
	for _, name := range t.Header {
		if !allowed[name] {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) == 0 {
		return nil
	}
	sort.Strings(unexpected)
	return &FormatError{Reason: fmt.Sprintf("unexpected columns %s (expected a subset of %s)",
		quoteAll(unexpected), quoteAll(expected))}
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}

// FeatureRows converts every data row into a FeatureRow in header order.
func (t *Table) FeatureRows() []*FeatureRow {
	rows := make([]*FeatureRow, len(t.Rows))
	for i, record := range t.Rows {
		row := NewFeatureRow()
		for j, name := range t.Header {
			row.Set(name, ParseValue(record[j]))
		}
		rows[i] = row
	}
	return rows
}

// WithColumn returns a copy of the table with one column appended.
func (t *Table) WithColumn(name string, values []string) (*Table, error) {
	if len(values) != len(t.Rows) {
		return nil, fmt.Errorf("column %q has %d values for %d rows", name, len(values), len(t.Rows))
	}
	for _, h := range t.Header {
		if h == name {
			return nil, &FormatError{Column: name, Reason: "column already present in upload"}
		}
	}
	out := &Table{
		Header: append(append([]string(nil), t.Header...), name),
		Rows:   make([][]string, len(t.Rows)),
	}
	for i, record := range t.Rows {
		out.Rows[i] = append(append(make([]string, 0, len(record)+1), record...), values[i])
	}
	return out, nil
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	return &Table{Header: t.Header, Rows: t.Rows[:n]}
}

func (t *Table) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Header); err != nil {
		return err
	}
	if err := writer.WriteAll(t.Rows); err != nil {
		return err
	}
	return writer.Error()
}
