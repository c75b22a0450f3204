// Package dataset provides read-only access to tabular data files.
//
// The upload/cleaning pipeline hands this package a file path plus the
// column types it inferred; when that metadata is missing for a column the
// loader infers a type itself so a session can still be initialized from a
// bare path.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ColumnType classifies a column for analysis purposes.
type ColumnType string

const (
	TypeNumeric     ColumnType = "numeric"
	TypeCategorical ColumnType = "categorical"
	TypeDatetime    ColumnType = "datetime"
)

// ErrColumnNotFound is returned when a named column does not exist.
var ErrColumnNotFound = errors.New("column not found")

// Column holds one column's name, type and raw cell values.
type Column struct {
	Name   string
	Type   ColumnType
	Values []string
}

// Table is an immutable in-memory view of a tabular dataset. All accessors
// are safe for concurrent use; nothing mutates a Table after Load returns.
type Table struct {
	Path    string
	columns []Column
	byName  map[string]int
	rows    int
}

// Load reads a CSV file into a Table. types maps column names to types
// supplied by the cleaning stage; columns absent from the map get an
// inferred type.
func Load(path string, types map[string]ColumnType) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("dataset has no header row")
	}

	header := records[0]
	rows := records[1:]

	t := &Table{
		Path:    path,
		columns: make([]Column, len(header)),
		byName:  make(map[string]int, len(header)),
		rows:    len(rows),
	}

	for i, name := range header {
		name = strings.TrimSpace(name)
		values := make([]string, len(rows))
		for r, row := range rows {
			if i < len(row) {
				values[r] = strings.TrimSpace(row[i])
			}
		}

		colType, ok := types[name]
		if !ok {
			colType = inferType(values)
		}

		t.columns[i] = Column{Name: name, Type: colType, Values: values}
		t.byName[name] = i
	}

	return t, nil
}

// Rows returns the number of data rows.
func (t *Table) Rows() int { return t.rows }

// Columns returns the columns in file order.
func (t *Table) Columns() []Column { return t.columns }

// ColumnNames returns column names in file order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, error) {
	idx, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrColumnNotFound, name, strings.Join(t.ColumnNames(), ", "))
	}
	return &t.columns[idx], nil
}

// ColumnsOfType returns the names of all columns with the given type.
func (t *Table) ColumnsOfType(ct ColumnType) []string {
	var names []string
	for _, c := range t.columns {
		if c.Type == ct {
			names = append(names, c.Name)
		}
	}
	return names
}

// Row returns one row as name→value, skipping empty cells.
func (t *Table) Row(i int) map[string]string {
	row := make(map[string]string, len(t.columns))
	for _, c := range t.columns {
		if i < len(c.Values) && c.Values[i] != "" {
			row[c.Name] = c.Values[i]
		}
	}
	return row
}

// MissingCells counts empty cells across the whole table.
func (t *Table) MissingCells() int {
	missing := 0
	for _, c := range t.columns {
		for _, v := range c.Values {
			if v == "" {
				missing++
			}
		}
	}
	return missing
}

// Numeric parses the column's non-empty cells as float64. Cells that fail
// to parse are skipped, matching the cleaning stage's coercion behavior.
func (c *Column) Numeric() []float64 {
	out := make([]float64, 0, len(c.Values))
	for i := range c.Values {
		if f, ok := c.Float(i); ok {
			out = append(out, f)
		}
	}
	return out
}

// Float parses the i-th cell as float64. false means the cell is missing,
// empty or unparseable.
func (c *Column) Float(i int) (float64, bool) {
	if i < 0 || i >= len(c.Values) || c.Values[i] == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(c.Values[i], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// NonEmpty returns the column's non-empty cells.
func (c *Column) NonEmpty() []string {
	out := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"02-Jan-2006",
}

// inferType classifies a column from its values: mostly-parseable numbers
// are numeric, mostly-parseable dates are datetime, everything else is
// categorical. Empty columns default to categorical.
func inferType(values []string) ColumnType {
	nonEmpty, numeric, datetime := 0, 0, 0
	for _, v := range values {
		if v == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64); err == nil {
			numeric++
			continue
		}
		for _, layout := range datetimeLayouts {
			if _, err := time.Parse(layout, v); err == nil {
				datetime++
				break
			}
		}
	}
	if nonEmpty == 0 {
		return TypeCategorical
	}
	if float64(numeric)/float64(nonEmpty) >= 0.9 {
		return TypeNumeric
	}
	if float64(datetime)/float64(nonEmpty) >= 0.9 {
		return TypeDatetime
	}
	return TypeCategorical
}
