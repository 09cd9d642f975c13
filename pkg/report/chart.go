package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"organoidquant/internal/models"
)

const (
	barWidth   = 24
	barSpacing = 8
)

var (
	centerColor    = drawing.Color{R: 200, G: 60, B: 60, A: 255}
	peripheryColor = drawing.Color{R: 60, G: 120, B: 200, A: 255}
)

// RatioChart builds a bar chart with the centre and periphery ratio of every
// row, the summary row included. Centre bars are red, periphery bars blue.
func RatioChart(t *models.ResultTable) chart.BarChart {
	rows := t.All()

	var bars []chart.Value
	maxValue := 0.0
	for _, row := range rows {
		bars = append(bars,
			chart.Value{
				Label: row.Label + " c",
				Value: row.RatioCenter,
				Style: chart.Style{FillColor: centerColor, StrokeColor: centerColor},
			},
			chart.Value{
				Label: row.Label + " p",
				Value: row.RatioPeriphery,
				Style: chart.Style{FillColor: peripheryColor, StrokeColor: peripheryColor},
			},
		)
		maxValue = max(maxValue, row.RatioCenter, row.RatioPeriphery)
	}
	if maxValue <= 0 {
		maxValue = 1
	}

	width := max(512, len(bars)*(barWidth+barSpacing)+128)

	return chart.BarChart{
		Title:      fmt.Sprintf("%s: marker2/marker1 ratio", t.Condition),
		Width:      width,
		Height:     400,
		BarWidth:   barWidth,
		BarSpacing: barSpacing,
		XAxis:      chart.Style{FontSize: 8.0, TextRotationDegrees: 90},
		YAxis: chart.YAxis{
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: maxValue * 1.1},
		},
		Bars: bars,
	}
}

// RenderRatioChart renders the ratio chart of t as PNG
func RenderRatioChart(w io.Writer, t *models.ResultTable) error {
	if len(t.Rows) == 0 {
		return fmt.Errorf("no rows to chart")
	}
	graph := RatioChart(t)
	return graph.Render(chart.PNG, w)
}

// SaveRatioChart renders the ratio chart of t to a PNG file
func SaveRatioChart(path string, t *models.ResultTable) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating chart directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating chart file: %w", err)
	}

	if err := RenderRatioChart(file, t); err != nil {
		file.Close()
		return fmt.Errorf("failed to render chart: %w", err)
	}

	return file.Close()
}
