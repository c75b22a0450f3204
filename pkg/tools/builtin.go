package tools

import (
	"context"
	"errors"

	"github.com/tabletalk/tabletalk/pkg/analysis"
	"github.com/tabletalk/tabletalk/pkg/dataset"
)

// RegisterBuiltins registers the standard analysis tool set.
func RegisterBuiltins(r *Registry) error {
	defs := []Definition{
		{
			Name:        "column_statistics",
			Description: "Compute statistics for a column: mean, median, std, min, max and quartiles for numeric columns; unique counts and top values for categorical columns.",
			Parameters: []Parameter{
				{Name: "column", Type: "string", Description: "Name of the column to analyze", Required: true},
			},
			Handler: columnStatistics,
		},
		{
			Name:        "correlation",
			Description: "Compute the Pearson correlation coefficient between two numeric columns.",
			Parameters: []Parameter{
				{Name: "column_a", Type: "string", Description: "First numeric column", Required: true},
				{Name: "column_b", Type: "string", Description: "Second numeric column", Required: true},
			},
			Handler: correlation,
		},
		{
			Name:        "outlier_detection",
			Description: "Detect outliers in a numeric column using 1.5×IQR fences.",
			Parameters: []Parameter{
				{Name: "column", Type: "string", Description: "Numeric column to scan for outliers", Required: true},
			},
			Handler: outlierDetection,
		},
		{
			Name:        "frequency_table",
			Description: "Count occurrences of each value in a column, most frequent first.",
			Parameters: []Parameter{
				{Name: "column", Type: "string", Description: "Column to tabulate", Required: true},
			},
			Handler: frequencyTable,
		},
		{
			Name:        "chart_data",
			Description: "Generate render-ready chart series for a column. Numeric columns support line, histogram and box; categorical columns support bar and pie.",
			Parameters: []Parameter{
				{Name: "column", Type: "string", Description: "Column to chart", Required: true},
				{Name: "chart_type", Type: "string", Description: "Chart shape", Required: true,
					Enum: []string{"line", "bar", "pie", "histogram", "box"}},
			},
			Handler: chartData,
		},
		{
			Name:        "dataset_summary",
			Description: "Summarize the whole dataset: row and column counts, column types and missing cells.",
			Parameters:  []Parameter{},
			Handler:     datasetSummary,
		},
	}

	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func stringArg(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", errors.New("missing argument: " + name)
	}
	return v, nil
}

func columnStatistics(_ context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "column")
	if err != nil {
		return nil, err
	}
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	if col.Type == dataset.TypeNumeric {
		return analysis.ColumnStatistics(t, name)
	}
	return analysis.CategoricalStatistics(t, name)
}

func correlation(_ context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error) {
	colA, err := stringArg(args, "column_a")
	if err != nil {
		return nil, err
	}
	colB, err := stringArg(args, "column_b")
	if err != nil {
		return nil, err
	}
	r, err := analysis.Correlation(t, colA, colB)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"column_a":    colA,
		"column_b":    colB,
		"correlation": r,
	}, nil
}

func outlierDetection(_ context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "column")
	if err != nil {
		return nil, err
	}
	return analysis.Outliers(t, name)
}

func frequencyTable(_ context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "column")
	if err != nil {
		return nil, err
	}
	return analysis.FrequencyTable(t, name)
}

func chartData(_ context.Context, t *dataset.Table, args map[string]interface{}) (interface{}, error) {
	name, err := stringArg(args, "column")
	if err != nil {
		return nil, err
	}
	chartType, err := stringArg(args, "chart_type")
	if err != nil {
		return nil, err
	}
	return analysis.ChartData(t, name, analysis.ChartType(chartType))
}

func datasetSummary(_ context.Context, t *dataset.Table, _ map[string]interface{}) (interface{}, error) {
	return analysis.TableOverview(t), nil
}
