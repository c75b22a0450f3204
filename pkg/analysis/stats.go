// Package analysis computes statistics and chart series over datasets.
// Every function is deterministic and side-effect free with respect to the
// table it reads, which is what makes the agent's tools idempotent.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"github.com/tabletalk/tabletalk/pkg/dataset"
)

// NumericStats summarizes a numeric column.
type NumericStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Q1     float64 `json:"q1"`
	Q3     float64 `json:"q3"`
	Sum    float64 `json:"sum"`
	Count  int     `json:"count"`
}

// CategoricalStats summarizes a categorical column.
type CategoricalStats struct {
	UniqueValues    int              `json:"unique_values"`
	MostCommon      string           `json:"most_common"`
	MostCommonCount int              `json:"most_common_count"`
	Top             []FrequencyEntry `json:"top"`
}

// FrequencyEntry is one value with its occurrence count.
type FrequencyEntry struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Overview describes the whole table.
type Overview struct {
	Rows               int `json:"rows"`
	Columns            int `json:"columns"`
	NumericColumns     int `json:"numeric_columns"`
	CategoricalColumns int `json:"categorical_columns"`
	DatetimeColumns    int `json:"datetime_columns"`
	MissingCells       int `json:"missing_cells"`
}

// OutlierReport lists values outside the IQR fences of a numeric column.
type OutlierReport struct {
	Column     string    `json:"column"`
	LowerFence float64   `json:"lower_fence"`
	UpperFence float64   `json:"upper_fence"`
	Outliers   []float64 `json:"outliers"`
	Total      int       `json:"total"`
}

const maxReportedOutliers = 50

// TableOverview computes row/column counts and missing-cell totals.
func TableOverview(t *dataset.Table) Overview {
	return Overview{
		Rows:               t.Rows(),
		Columns:            len(t.Columns()),
		NumericColumns:     len(t.ColumnsOfType(dataset.TypeNumeric)),
		CategoricalColumns: len(t.ColumnsOfType(dataset.TypeCategorical)),
		DatetimeColumns:    len(t.ColumnsOfType(dataset.TypeDatetime)),
		MissingCells:       t.MissingCells(),
	}
}

// ColumnStatistics computes NumericStats for a numeric column.
func ColumnStatistics(t *dataset.Table, name string) (*NumericStats, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if col.Type != dataset.TypeNumeric {
		return nil, fmt.Errorf("column %q is %s, not numeric", name, col.Type)
	}
	values := col.Numeric()
	if len(values) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values", name)
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	std := 0.0
	if len(values) > 1 {
		std = math.Sqrt(variance / float64(len(values)-1))
	}

	return &NumericStats{
		Mean:   mean,
		Median: quantile(sorted, 0.5),
		Std:    std,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Q1:     quantile(sorted, 0.25),
		Q3:     quantile(sorted, 0.75),
		Sum:    sum,
		Count:  len(values),
	}, nil
}

// CategoricalStatistics computes value-count stats for a categorical column.
func CategoricalStatistics(t *dataset.Table, name string) (*CategoricalStats, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	freq := countValues(col.NonEmpty())
	if len(freq) == 0 {
		return nil, fmt.Errorf("column %q has no values", name)
	}
	top := freq
	if len(top) > 5 {
		top = top[:5]
	}
	return &CategoricalStats{
		UniqueValues:    len(freq),
		MostCommon:      freq[0].Value,
		MostCommonCount: freq[0].Count,
		Top:             top,
	}, nil
}

// Correlation computes the Pearson correlation coefficient between two
// numeric columns. Pairs are formed row-wise; a row missing either value
// is dropped whole, so staggered gaps never shift values against each
// other.
func Correlation(t *dataset.Table, colA, colB string) (float64, error) {
	ca, err := numericColumn(t, colA)
	if err != nil {
		return 0, err
	}
	cb, err := numericColumn(t, colB)
	if err != nil {
		return 0, err
	}

	var a, b []float64
	for i := 0; i < t.Rows(); i++ {
		va, okA := ca.Float(i)
		vb, okB := cb.Float(i)
		if okA && okB {
			a = append(a, va)
			b = append(b, vb)
		}
	}

	n := len(a)
	if n < 2 {
		return 0, fmt.Errorf("not enough paired values to correlate %q and %q", colA, colB)
	}

	var sumA, sumB float64
	for i := 0; i < n; i++ {
		sumA += a[i]
		sumB += b[i]
	}
	meanA, meanB := sumA/float64(n), sumB/float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0, fmt.Errorf("column %q or %q has zero variance", colA, colB)
	}
	return cov / math.Sqrt(varA*varB), nil
}

// Outliers detects values outside 1.5×IQR fences of a numeric column.
func Outliers(t *dataset.Table, name string) (*OutlierReport, error) {
	stats, err := ColumnStatistics(t, name)
	if err != nil {
		return nil, err
	}
	col, _ := t.Column(name)

	iqr := stats.Q3 - stats.Q1
	lower := stats.Q1 - 1.5*iqr
	upper := stats.Q3 + 1.5*iqr

	report := &OutlierReport{Column: name, LowerFence: lower, UpperFence: upper}
	for _, v := range col.Numeric() {
		if v < lower || v > upper {
			report.Total++
			if len(report.Outliers) < maxReportedOutliers {
				report.Outliers = append(report.Outliers, v)
			}
		}
	}
	return report, nil
}

// FrequencyTable returns value counts for a column, most frequent first.
// Ties are ordered lexically so the result is stable.
func FrequencyTable(t *dataset.Table, name string) ([]FrequencyEntry, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	return countValues(col.NonEmpty()), nil
}

func numericColumn(t *dataset.Table, name string) (*dataset.Column, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if col.Type != dataset.TypeNumeric {
		return nil, fmt.Errorf("column %q is %s, not numeric", name, col.Type)
	}
	return col, nil
}

func countValues(values []string) []FrequencyEntry {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	entries := make([]FrequencyEntry, 0, len(counts))
	for v, c := range counts {
		entries = append(entries, FrequencyEntry{Value: v, Count: c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Value < entries[j].Value
	})
	return entries
}

// quantile computes the q-th quantile of sorted values by linear
// interpolation between closest ranks.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
