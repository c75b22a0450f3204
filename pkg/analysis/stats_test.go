package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabletalk/tabletalk/pkg/dataset"
)

func loadTable(t *testing.T, content string) *dataset.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	table, err := dataset.Load(path, nil)
	require.NoError(t, err)
	return table
}

const scoresCSV = `name,score,grade
alice,10,A
bob,20,B
carol,30,A
dave,40,B
erin,50,A
`

func TestTableOverview(t *testing.T) {
	table := loadTable(t, scoresCSV)
	ov := TableOverview(table)

	assert.Equal(t, 5, ov.Rows)
	assert.Equal(t, 3, ov.Columns)
	assert.Equal(t, 1, ov.NumericColumns)
	assert.Equal(t, 2, ov.CategoricalColumns)
	assert.Equal(t, 0, ov.MissingCells)
}

func TestColumnStatistics(t *testing.T) {
	table := loadTable(t, scoresCSV)

	stats, err := ColumnStatistics(table, "score")
	require.NoError(t, err)

	assert.InDelta(t, 30.0, stats.Mean, 1e-9)
	assert.InDelta(t, 30.0, stats.Median, 1e-9)
	assert.InDelta(t, 10.0, stats.Min, 1e-9)
	assert.InDelta(t, 50.0, stats.Max, 1e-9)
	assert.InDelta(t, 150.0, stats.Sum, 1e-9)
	assert.InDelta(t, 20.0, stats.Q1, 1e-9)
	assert.InDelta(t, 40.0, stats.Q3, 1e-9)
	// Sample standard deviation of 10..50 step 10.
	assert.InDelta(t, 15.8113883, stats.Std, 1e-6)
	assert.Equal(t, 5, stats.Count)
}

func TestColumnStatistics_Idempotent(t *testing.T) {
	table := loadTable(t, scoresCSV)

	first, err := ColumnStatistics(table, "score")
	require.NoError(t, err)
	second, err := ColumnStatistics(table, "score")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestColumnStatistics_Errors(t *testing.T) {
	table := loadTable(t, scoresCSV)

	_, err := ColumnStatistics(table, "missing")
	assert.ErrorIs(t, err, dataset.ErrColumnNotFound)

	_, err = ColumnStatistics(table, "grade")
	assert.ErrorContains(t, err, "not numeric")
}

func TestCategoricalStatistics(t *testing.T) {
	table := loadTable(t, scoresCSV)

	stats, err := CategoricalStatistics(table, "grade")
	require.NoError(t, err)

	assert.Equal(t, 2, stats.UniqueValues)
	assert.Equal(t, "A", stats.MostCommon)
	assert.Equal(t, 3, stats.MostCommonCount)
}

func TestCorrelation(t *testing.T) {
	table := loadTable(t, `x,y,z
1,2,5
2,4,5
3,6,5
4,8,5
`)

	r, err := Correlation(table, "x", "y")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-9)

	// Perfect negative correlation.
	table2 := loadTable(t, `x,y
1,4
2,3
3,2
4,1
`)
	r, err = Correlation(table2, "x", "y")
	require.NoError(t, err)
	assert.InDelta(t, -1.0, r, 1e-9)
}

func TestCorrelation_StaggeredMissingCellsPairRowWise(t *testing.T) {
	// Gaps sit in different rows; only rows with both values present may
	// form a pair. The complete pairs are (1,2), (3,6), (4,8), exactly
	// y = 2x, so r must be 1. Positional packing of the two columns would
	// pair 2 with 9 and drift everything after the gaps.
	table := loadTable(t, `x,y
1,2
2,
,9
3,6
4,8
`)
	r, err := Correlation(table, "x", "y")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r, 1e-9)
}

func TestCorrelation_TooFewCompletePairs(t *testing.T) {
	table := loadTable(t, `x,y
1,
,2
3,4
`)
	_, err := Correlation(table, "x", "y")
	assert.ErrorContains(t, err, "not enough paired values")
}

func TestCorrelation_ZeroVariance(t *testing.T) {
	table := loadTable(t, `x,y,z
1,2,5
2,4,5
3,6,5
4,8,5
`)
	_, err := Correlation(table, "x", "z")
	assert.ErrorContains(t, err, "zero variance")
}

func TestOutliers(t *testing.T) {
	table := loadTable(t, `v
10
11
12
13
14
15
100
`)
	report, err := Outliers(table, "v")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, []float64{100}, report.Outliers)
	assert.Less(t, report.LowerFence, 10.0)
	assert.Less(t, report.UpperFence, 100.0)
}

func TestFrequencyTable(t *testing.T) {
	table := loadTable(t, scoresCSV)

	freq, err := FrequencyTable(table, "grade")
	require.NoError(t, err)

	require.Len(t, freq, 2)
	assert.Equal(t, FrequencyEntry{Value: "A", Count: 3}, freq[0])
	assert.Equal(t, FrequencyEntry{Value: "B", Count: 2}, freq[1])
}

func TestFrequencyTable_TieBreaksLexically(t *testing.T) {
	table := loadTable(t, `c
b
a
b
a
`)
	freq, err := FrequencyTable(table, "c")
	require.NoError(t, err)
	require.Len(t, freq, 2)
	assert.Equal(t, "a", freq[0].Value)
	assert.Equal(t, "b", freq[1].Value)
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.InDelta(t, 2.5, quantile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-9)
	assert.InDelta(t, 1.0, quantile(sorted, 0), 1e-9)
	assert.InDelta(t, 4.0, quantile(sorted, 1), 1e-9)
	assert.InDelta(t, 7.0, quantile([]float64{7}, 0.5), 1e-9)
}
