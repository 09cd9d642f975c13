// Package report writes the result table of a run and renders its summary
// chart.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"organoidquant/internal/models"
)

// Format controls how the result table is written
type Format struct {
	// Delimiter separates the fields of a line
	Delimiter rune

	// DecimalComma writes ',' instead of '.' as decimal separator
	DecimalComma bool
}

// DefaultFormat returns the ';'-separated, decimal comma layout
func DefaultFormat() Format {
	return Format{Delimiter: ';', DecimalComma: true}
}

// Header returns the column names of the written table
func Header() []string {
	h := []string{"label", "sample", "id"}
	h = append(h, models.Columns...)
	return append(h, "flags")
}

// WriteTable writes one header line, the per-sample rows and the summary row
func WriteTable(w io.Writer, t *models.ResultTable, f Format) error {
	if f.DecimalComma && f.Delimiter == ',' {
		return fmt.Errorf("decimal comma cannot be combined with ',' as delimiter")
	}

	cw := csv.NewWriter(w)
	cw.Comma = f.Delimiter

	if err := cw.Write(Header()); err != nil {
		return err
	}
	for _, row := range t.All() {
		if err := cw.Write(record(row, f)); err != nil {
			return err
		}
	}
	cw.Flush()

	return cw.Error()
}

func record(row models.FeatureRow, f Format) []string {
	rec := []string{row.Label, row.SampleName, row.SampleID}
	for _, v := range row.Values() {
		rec = append(rec, formatFloat(v, f.DecimalComma))
	}
	return append(rec, row.Flags.String())
}

func formatFloat(v float64, decimalComma bool) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if decimalComma {
		s = strings.Replace(s, ".", ",", 1)
	}
	return s
}

// SaveTable writes the table to path, creating parent directories as needed
func SaveTable(path string, t *models.ResultTable, f Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating output file: %w", err)
	}

	if err := WriteTable(file, t, f); err != nil {
		file.Close()
		return fmt.Errorf("error writing output file: %w", err)
	}

	return file.Close()
}
