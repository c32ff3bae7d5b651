package sweep

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/banshee-data/placesweep/internal/config"
)

// Unmatched is the value of a statistic whose pattern never matched.
const Unmatched = "0"

// Pattern is a compiled statistic pattern.
type Pattern struct {
	Name string
	re   *regexp.Regexp
}

// CompilePatterns compiles every statistic pattern once per run.
// Each pattern must have at least one capture group.
func CompilePatterns(stats []config.Stat) ([]Pattern, error) {
	patterns := make([]Pattern, len(stats))
	for i, s := range stats {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("stat %q: invalid pattern: %w", s.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("stat %q: pattern %q has no capture group", s.Name, s.Pattern)
		}
		patterns[i] = Pattern{Name: s.Name, re: re}
	}
	return patterns, nil
}

// NewStatsRow returns a row with every slot set to Unmatched.
func NewStatsRow(n int) []string {
	row := make([]string, n)
	for i := range row {
		row[i] = Unmatched
	}
	return row
}

// Extract scans stdout line by line and tries every pattern against each
// line. A match overwrites its slot with the first capture group, so when
// a value is reported several times the last line wins.
func Extract(stdout string, patterns []Pattern) []string {
	stats, _ := extract(stdout, patterns)
	return stats
}

// Missing returns the names of the patterns that matched no line.
func Missing(stdout string, patterns []Pattern) []string {
	_, matched := extract(stdout, patterns)
	var missing []string
	for i, ok := range matched {
		if !ok {
			missing = append(missing, patterns[i].Name)
		}
	}
	return missing
}

func extract(stdout string, patterns []Pattern) ([]string, []bool) {
	stats := NewStatsRow(len(patterns))
	matched := make([]bool, len(patterns))
	for _, line := range splitLines(stdout) {
		for i, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				stats[i] = m[1]
				matched[i] = true
			}
		}
	}
	return stats, matched
}

// splitLines splits on \n, \r\n and \r and drops the trailing empty line.
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}
