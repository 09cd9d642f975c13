package analysis

import (
	"gonum.org/v1/gonum/stat"

	"organoidquant/internal/models"
)

// Summarize returns the AVERAGE row: the arithmetic mean of every numeric
// column across rows. Flags and sample fields are left empty.
func Summarize(rows []models.FeatureRow) models.FeatureRow {
	summary := models.FeatureRow{Label: models.SummaryLabel}
	if len(rows) == 0 {
		return summary
	}

	columns := make([][]float64, len(models.Columns))
	for _, r := range rows {
		for j, v := range r.Values() {
			columns[j] = append(columns[j], v)
		}
	}

	means := make([]float64, len(columns))
	for j, col := range columns {
		means[j] = stat.Mean(col, nil)
	}
	summary.SetValues(means)

	return summary
}
