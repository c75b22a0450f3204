package analysis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChartData_Line(t *testing.T) {
	table := loadTable(t, scoresCSV)

	chart, err := ChartData(table, "score", ChartLine)
	require.NoError(t, err)

	assert.Equal(t, ChartLine, chart.Type)
	assert.Equal(t, "score", chart.Column)
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, chart.Values)
	assert.Len(t, chart.Labels, 5)
}

func TestChartData_LineDownsamples(t *testing.T) {
	var b strings.Builder
	b.WriteString("v\n")
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&b, "%d\n", i)
	}
	table := loadTable(t, b.String())

	chart, err := ChartData(table, "v", ChartLine)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chart.Values), maxChartPoints)
	assert.Equal(t, 0.0, chart.Values[0])
}

func TestChartData_Histogram(t *testing.T) {
	table := loadTable(t, scoresCSV)

	chart, err := ChartData(table, "score", ChartHistogram)
	require.NoError(t, err)

	assert.Len(t, chart.Values, histogramBins)
	assert.Len(t, chart.Labels, histogramBins)

	total := 0.0
	for _, c := range chart.Values {
		total += c
	}
	assert.Equal(t, 5.0, total)
}

func TestChartData_Box(t *testing.T) {
	table := loadTable(t, scoresCSV)

	chart, err := ChartData(table, "score", ChartBox)
	require.NoError(t, err)

	assert.Equal(t, []string{"min", "q1", "median", "q3", "max"}, chart.Labels)
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, chart.Values)
}

func TestChartData_BarAndPie(t *testing.T) {
	table := loadTable(t, scoresCSV)

	for _, ct := range []ChartType{ChartBar, ChartPie} {
		chart, err := ChartData(table, "grade", ct)
		require.NoError(t, err)
		assert.Equal(t, ct, chart.Type)
		assert.Equal(t, []string{"A", "B"}, chart.Labels)
		assert.Equal(t, []float64{3, 2}, chart.Values)
	}
}

func TestChartData_CapsCategories(t *testing.T) {
	var b strings.Builder
	b.WriteString("c\n")
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "cat%02d\n", i)
	}
	table := loadTable(t, b.String())

	chart, err := ChartData(table, "c", ChartBar)
	require.NoError(t, err)
	assert.Len(t, chart.Labels, maxCategories)
}

func TestChartData_Errors(t *testing.T) {
	table := loadTable(t, scoresCSV)

	_, err := ChartData(table, "score", ChartType("scatter"))
	assert.ErrorContains(t, err, "unsupported chart type")

	_, err = ChartData(table, "missing", ChartLine)
	assert.Error(t, err)

	// Box charts require a numeric column.
	_, err = ChartData(table, "grade", ChartBox)
	assert.Error(t, err)
}
