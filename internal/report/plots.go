package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/placesweep/internal/security"
	"github.com/banshee-data/placesweep/internal/sweep"
)

// WritePlots saves <stat>.png under dir for every statistic, each a bar
// per argument set. It returns the written paths.
func WritePlots(dir string, res *sweep.Result) ([]string, error) {
	if len(res.Summary) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	names := labels(res.Summary)
	used := make(map[string]bool)
	var paths []string
	for i, stat := range res.StatNames {
		p := plot.New()
		p.Title.Text = stat
		p.X.Label.Text = "Argument set"
		p.Y.Label.Text = "Geomean"

		bars, err := plotter.NewBarChart(plotter.Values(column(res.Summary, i)), vg.Points(20))
		if err != nil {
			return paths, fmt.Errorf("stat %s: %w", stat, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		p.Add(bars)
		p.NominalX(names...)

		width := 4*vg.Inch + vg.Length(len(names))*vg.Points(30)
		path := filepath.Join(dir, plotName(stat, used)+".png")
		if err := p.Save(width, 4*vg.Inch, path); err != nil {
			return paths, fmt.Errorf("failed to save %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// plotName returns a file name stem for stat that no earlier stat in used
// has taken, ignoring case.
func plotName(stat string, used map[string]bool) string {
	base := security.SanitizeFilename(stat)
	name := base
	for i := 2; used[strings.ToLower(name)]; i++ {
		name = base + "-" + strconv.Itoa(i)
	}
	used[strings.ToLower(name)] = true
	return name
}
