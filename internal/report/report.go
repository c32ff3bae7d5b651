// Package report renders a finished sweep as a workbook, an HTML chart
// page and PNG plots. The CSV tables remain the primary record; these
// are derived from the same rows.
package report

import (
	"math"
	"strconv"

	"github.com/banshee-data/placesweep/internal/sweep"
)

// Output file names inside an experiment directory.
const (
	WorkbookFile = "summary.xlsx"
	ChartFile    = "summary.html"
	PlotDir      = "plots"
)

// numeric parses a report cell. Non-numeric and non-finite cells read as 0.
func numeric(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// column extracts statistic i of every row.
func column(rows []sweep.Row, i int) []float64 {
	out := make([]float64, len(rows))
	for r, row := range rows {
		if i < len(row.Stats) {
			out[r] = numeric(row.Stats[i])
		}
	}
	return out
}

func labels(rows []sweep.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Label
	}
	return out
}
