// Package index builds a session-private semantic index over a dataset and
// answers top-K retrieval queries against it.
package index

import (
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/pkg/analysis"
	"github.com/tabletalk/tabletalk/pkg/dataset"
)

// ChunkKind identifies what part of the dataset a chunk describes.
type ChunkKind string

const (
	KindSchema ChunkKind = "schema"
	KindColumn ChunkKind = "column"
	KindRows   ChunkKind = "rows"
)

// Chunk is the smallest retrievable unit derived from a dataset. Chunks are
// immutable once built; rebuilding the index replaces the whole set.
type Chunk struct {
	ID      string
	Kind    ChunkKind
	Ord     int
	Content string
}

const rowsPerChunk = 5

// BuildChunks converts a table into a bounded, ordered list of chunks. The
// schema summary is always first and is produced even for an empty table.
// When one-chunk-per-column would exceed maxChunks, columns are aggregated
// into grouped summary chunks so no column is dropped.
func BuildChunks(t *dataset.Table, maxChunks, sampleRows int) []Chunk {
	if maxChunks < 1 {
		maxChunks = 1
	}

	chunks := []Chunk{{
		ID:      "schema",
		Kind:    KindSchema,
		Content: schemaSummary(t),
	}}

	cols := t.Columns()
	columnBudget := maxChunks - 1
	if columnBudget > 0 && len(cols) > 0 {
		if len(cols) <= columnBudget {
			for _, col := range cols {
				chunks = append(chunks, Chunk{
					ID:      "col_" + col.Name,
					Kind:    KindColumn,
					Content: columnSummary(t, &col),
				})
			}
		} else {
			// Too many columns for one chunk each: pack several short
			// summaries into each grouped chunk.
			perGroup := (len(cols) + columnBudget - 1) / columnBudget
			for i := 0; i < len(cols); i += perGroup {
				end := i + perGroup
				if end > len(cols) {
					end = len(cols)
				}
				var parts []string
				for j := i; j < end; j++ {
					parts = append(parts, columnSummary(t, &cols[j]))
				}
				chunks = append(chunks, Chunk{
					ID:      fmt.Sprintf("colgroup_%d", i/perGroup),
					Kind:    KindColumn,
					Content: strings.Join(parts, "\n"),
				})
			}
		}
	}

	if sampleRows > t.Rows() {
		sampleRows = t.Rows()
	}
	for start := 0; start < sampleRows && len(chunks) < maxChunks; start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > sampleRows {
			end = sampleRows
		}
		var lines []string
		for r := start; r < end; r++ {
			lines = append(lines, rowSummary(t, r))
		}
		chunks = append(chunks, Chunk{
			ID:      fmt.Sprintf("rows_%d_%d", start, end-1),
			Kind:    KindRows,
			Content: strings.Join(lines, "\n"),
		})
	}

	for i := range chunks {
		chunks[i].Ord = i
	}
	return chunks
}

func schemaSummary(t *dataset.Table) string {
	ov := analysis.TableOverview(t)
	parts := []string{
		fmt.Sprintf("Dataset with %d rows and %d columns", ov.Rows, ov.Columns),
	}
	if names := t.ColumnsOfType(dataset.TypeNumeric); len(names) > 0 {
		parts = append(parts, "Numeric columns: "+strings.Join(names, ", "))
	}
	if names := t.ColumnsOfType(dataset.TypeCategorical); len(names) > 0 {
		parts = append(parts, "Categorical columns: "+strings.Join(names, ", "))
	}
	if names := t.ColumnsOfType(dataset.TypeDatetime); len(names) > 0 {
		parts = append(parts, "Datetime columns: "+strings.Join(names, ", "))
	}
	if ov.MissingCells > 0 {
		parts = append(parts, fmt.Sprintf("Missing cells: %d", ov.MissingCells))
	}
	return strings.Join(parts, ". ")
}

func columnSummary(t *dataset.Table, col *dataset.Column) string {
	parts := []string{
		fmt.Sprintf("Column: %s", col.Name),
		fmt.Sprintf("Type: %s", col.Type),
	}

	switch col.Type {
	case dataset.TypeNumeric:
		if stats, err := analysis.ColumnStatistics(t, col.Name); err == nil {
			parts = append(parts,
				fmt.Sprintf("Mean: %.2f", stats.Mean),
				fmt.Sprintf("Median: %.2f", stats.Median),
				fmt.Sprintf("Min: %.2f", stats.Min),
				fmt.Sprintf("Max: %.2f", stats.Max),
				fmt.Sprintf("Std Dev: %.2f", stats.Std),
			)
		}
	case dataset.TypeCategorical:
		if stats, err := analysis.CategoricalStatistics(t, col.Name); err == nil {
			var top []string
			for _, e := range stats.Top {
				top = append(top, fmt.Sprintf("%s (%d)", e.Value, e.Count))
			}
			parts = append(parts,
				fmt.Sprintf("Unique values: %d", stats.UniqueValues),
				"Most common: "+strings.Join(top, ", "),
			)
		}
	case dataset.TypeDatetime:
		values := col.NonEmpty()
		if len(values) > 0 {
			parts = append(parts,
				fmt.Sprintf("Earliest: %s", values[0]),
				fmt.Sprintf("Latest: %s", values[len(values)-1]),
			)
		}
	}

	return strings.Join(parts, ". ")
}

func rowSummary(t *dataset.Table, r int) string {
	var parts []string
	for _, col := range t.Columns() {
		if r < len(col.Values) && col.Values[r] != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", col.Name, col.Values[r]))
		}
	}
	return strings.Join(parts, ". ")
}
