package agent

import (
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/pkg/dataset"
)

const maxSuggestions = 6

// Suggestions derives follow-up questions from the dataset's schema and
// the topic of the current answer. Rule-based on purpose: suggestions must
// be cheap and must never require another model call.
func Suggestions(table *dataset.Table, answer string) []string {
	if table == nil {
		return []string{
			"What kind of analysis can you do?",
			"Give me an overview of this dataset",
		}
	}

	suggestions := []string{
		"Give me an overview of this dataset",
	}

	numeric := table.ColumnsOfType(dataset.TypeNumeric)
	categorical := table.ColumnsOfType(dataset.TypeCategorical)
	lowerAnswer := strings.ToLower(answer)

	// Prefer columns the answer has not already covered.
	if col := firstUnmentioned(numeric, lowerAnswer); col != "" {
		suggestions = append(suggestions, fmt.Sprintf("What are the statistics for %s?", col))
	}
	if len(numeric) > 1 {
		suggestions = append(suggestions, fmt.Sprintf("What's the correlation between %s and %s?", numeric[0], numeric[1]))
	}
	if len(numeric) > 0 {
		suggestions = append(suggestions, fmt.Sprintf("Are there any outliers in %s?", numeric[0]))
	}
	if col := firstUnmentioned(categorical, lowerAnswer); col != "" {
		suggestions = append(suggestions, fmt.Sprintf("Break down the data by %s", col))
	}
	suggestions = append(suggestions, "What patterns can you find in this data?")

	if len(suggestions) > maxSuggestions {
		suggestions = suggestions[:maxSuggestions]
	}
	return suggestions
}

func firstUnmentioned(columns []string, lowerAnswer string) string {
	for _, col := range columns {
		if !strings.Contains(lowerAnswer, strings.ToLower(col)) {
			return col
		}
	}
	if len(columns) > 0 {
		return columns[0]
	}
	return ""
}
