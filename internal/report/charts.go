package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/placesweep/internal/sweep"
)

// RenderChartPage writes an HTML page with one bar chart per statistic,
// plotting the geomean of every argument set.
func RenderChartPage(w io.Writer, title string, res *sweep.Result) error {
	page := components.NewPage()
	page.PageTitle = title

	x := labels(res.Summary)
	for i, stat := range res.StatNames {
		values := column(res.Summary, i)
		y := make([]opts.BarData, len(values))
		for j, v := range values {
			y[j] = opts.BarData{Value: v}
		}

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px"}),
			charts.WithTitleOpts(opts.Title{Title: stat, Subtitle: "geomean across circuits"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "argument set"}),
		)
		bar.SetXAxis(x).
			AddSeries(stat, y,
				charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
			)
		page.AddCharts(bar)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}

// WriteChartPage renders the chart page to path.
func WriteChartPage(path, title string, res *sweep.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := RenderChartPage(f, title, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
