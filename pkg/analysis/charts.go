package analysis

import (
	"fmt"
	"math"

	"github.com/tabletalk/tabletalk/pkg/dataset"
)

// ChartType enumerates supported chart shapes.
type ChartType string

const (
	ChartLine      ChartType = "line"
	ChartBar       ChartType = "bar"
	ChartPie       ChartType = "pie"
	ChartHistogram ChartType = "histogram"
	ChartBox       ChartType = "box"
)

// Chart carries render-ready series for the frontend chart library.
type Chart struct {
	Type   ChartType `json:"type"`
	Column string    `json:"column"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

const (
	maxChartPoints = 200
	maxCategories  = 12
	histogramBins  = 10
)

// ChartData builds chart series for a (column, chart type) pair. Numeric
// columns support line/histogram/box; categorical columns support bar/pie.
func ChartData(t *dataset.Table, name string, ct ChartType) (*Chart, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}

	switch ct {
	case ChartLine:
		return lineChart(col)
	case ChartHistogram:
		return histogram(col)
	case ChartBox:
		return boxChart(t, col)
	case ChartBar, ChartPie:
		return categoryChart(col, ct)
	default:
		return nil, fmt.Errorf("unsupported chart type %q (use line, bar, pie, histogram, or box)", ct)
	}
}

func lineChart(col *dataset.Column) (*Chart, error) {
	values := col.Numeric()
	if len(values) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values to plot", col.Name)
	}
	// Downsample long series by stride so the payload stays bounded.
	stride := 1
	if len(values) > maxChartPoints {
		stride = len(values) / maxChartPoints
	}
	chart := &Chart{Type: ChartLine, Column: col.Name}
	for i := 0; i < len(values); i += stride {
		chart.Labels = append(chart.Labels, fmt.Sprintf("%d", i))
		chart.Values = append(chart.Values, values[i])
	}
	return chart, nil
}

func histogram(col *dataset.Column) (*Chart, error) {
	values := col.Numeric()
	if len(values) == 0 {
		return nil, fmt.Errorf("column %q has no numeric values to bin", col.Name)
	}
	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	width := (max - min) / histogramBins
	if width == 0 {
		width = 1
	}

	counts := make([]float64, histogramBins)
	for _, v := range values {
		bin := int(math.Floor((v - min) / width))
		if bin >= histogramBins {
			bin = histogramBins - 1
		}
		counts[bin]++
	}

	chart := &Chart{Type: ChartHistogram, Column: col.Name, Values: counts}
	for i := 0; i < histogramBins; i++ {
		lo := min + float64(i)*width
		chart.Labels = append(chart.Labels, fmt.Sprintf("%.2f–%.2f", lo, lo+width))
	}
	return chart, nil
}

func boxChart(t *dataset.Table, col *dataset.Column) (*Chart, error) {
	stats, err := ColumnStatistics(t, col.Name)
	if err != nil {
		return nil, err
	}
	return &Chart{
		Type:   ChartBox,
		Column: col.Name,
		Labels: []string{"min", "q1", "median", "q3", "max"},
		Values: []float64{stats.Min, stats.Q1, stats.Median, stats.Q3, stats.Max},
	}, nil
}

func categoryChart(col *dataset.Column, ct ChartType) (*Chart, error) {
	freq := countValues(col.NonEmpty())
	if len(freq) == 0 {
		return nil, fmt.Errorf("column %q has no values to chart", col.Name)
	}
	if len(freq) > maxCategories {
		freq = freq[:maxCategories]
	}
	chart := &Chart{Type: ct, Column: col.Name}
	for _, e := range freq {
		chart.Labels = append(chart.Labels, e.Value)
		chart.Values = append(chart.Values, float64(e.Count))
	}
	return chart, nil
}
