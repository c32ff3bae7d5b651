package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/banshee-data/placesweep/internal/config"
	"github.com/banshee-data/placesweep/internal/fsutil"
	"github.com/banshee-data/placesweep/internal/monitoring"
	"github.com/banshee-data/placesweep/internal/timeutil"
)

// DefaultByproducts are the files the placers leave in their working
// directory after every invocation.
var DefaultByproducts = []string{
	"{circuit}.critical_path.out",
	"{circuit}.slack.out",
	"vpr_stdout.log",
}

const progressTimeFormat = "2006-01-02 15:04:05"

// Executor runs one fully substituted command.
type Executor interface {
	Run(ctx context.Context, cmd Command) ProcessResult
}

// Invocation is one (argument set, circuit) run as handed to a Recorder.
type Invocation struct {
	Iteration int
	Circuit   string
	Arguments ArgumentSet
	Command   Command
	Failed    bool
	StatNames []string
	Stats     []string
	Duration  time.Duration
}

// Recorder receives every completed invocation, e.g. to persist it.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv Invocation) error
}

// Row is one labelled line of a report table.
type Row struct {
	Label  string
	Values []string
	Stats  []string
}

// Result summarises a finished (or interrupted) sweep.
type Result struct {
	ArgumentNames []string
	StatNames     []string
	Circuits      []string

	Iterations  int
	Invocations int
	Failures    int

	// Summary holds the geomean row of every completed argument set.
	Summary []Row
	// PerCircuit holds each circuit's rows in iteration order.
	PerCircuit map[string][]Row
}

// Runner drives a sweep: every argument set, then every circuit, strictly
// one invocation at a time.
type Runner struct {
	Experiment *config.Experiment

	// OutputDir receives the reports. Tool commands refer to files in it,
	// so it should be absolute when WorkDir differs from the process cwd.
	OutputDir string
	// WorkDir is where the tools run and where byproducts are removed.
	WorkDir string

	FS       fsutil.FileSystem
	Executor Executor
	Clock    timeutil.Clock
	Progress io.Writer
	Recorder Recorder
}

func (r *Runner) defaults() {
	if r.FS == nil {
		r.FS = fsutil.OSFileSystem{}
	}
	if r.Executor == nil {
		r.Executor = &ProcessRunner{Dir: r.WorkDir, Timeout: r.Experiment.Timeout}
	}
	if r.Clock == nil {
		r.Clock = timeutil.RealClock{}
	}
	if r.Progress == nil {
		r.Progress = io.Discard
	}
}

// Run executes the sweep. Configuration problems are reported before any
// report file is created. Tool failures are recorded as zero rows and do
// not stop the sweep; I/O errors do.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if r.Experiment == nil {
		return nil, errors.New("no experiment configured")
	}
	r.defaults()
	exp := r.Experiment
	if err := exp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pipeline, err := PipelineFor(exp.Placer, exp.Route)
	if err != nil {
		return nil, err
	}
	stats := append(clone(exp.Stats), pipeline.Stats...)
	patterns, err := CompilePatterns(stats)
	if err != nil {
		return nil, err
	}
	sets, err := ArgumentSets(exp.Arguments.Names, exp.Arguments.Values)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ArgumentNames: exp.Arguments.Names,
		StatNames:     make([]string, len(patterns)),
		Circuits:      exp.Circuits,
		PerCircuit:    make(map[string][]Row, len(exp.Circuits)),
	}
	for i, p := range patterns {
		res.StatNames[i] = p.Name
	}

	if err := r.FS.MkdirAll(r.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	reports, err := NewReportWriter(r.FS, r.OutputDir, res.ArgumentNames, res.StatNames, exp.Circuits)
	if err != nil {
		return nil, err
	}

	runErr := r.sweep(ctx, pipeline, patterns, sets, reports, res)
	if err := reports.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to close reports: %w", err)
	}
	return res, runErr
}

func (r *Runner) sweep(ctx context.Context, pipeline Pipeline, patterns []Pattern, sets []ArgumentSet, reports *ReportWriter, res *Result) error {
	exp := r.Experiment
	for n, args := range sets {
		iterDir := reports.IterationDir(n)
		cmd := Command(Substitute(pipeline.Command(args), map[string]string{
			"architecture_file": exp.Architecture,
			"blif_file":         exp.BlifFile,
			"net_file":          exp.NetFile,
			"place_file":        filepath.Join(iterDir, "{circuit}.place"),
			"route_file":        filepath.Join(iterDir, "{circuit}.route"),
		}))

		fmt.Fprintln(r.Progress, r.Clock.Now().Format(progressTimeFormat))
		fmt.Fprintf(r.Progress, "%s: %s\n", IterationName(n), args)

		acc := NewAccumulator(len(patterns), len(exp.Circuits))
		for _, circuit := range exp.Circuits {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("sweep interrupted: %w", err)
			}
			fmt.Fprintf(r.Progress, "    %s\n", circuit)

			stats, err := r.invoke(ctx, n, args, cmd, circuit, patterns, reports, res)
			if err != nil {
				return err
			}
			acc.Add(circuit, stats)
		}

		geomeans := acc.FormatGeomeans()
		if err := reports.WriteIteration(n, args, cmd, geomeans); err != nil {
			return err
		}
		res.Summary = append(res.Summary, Row{Label: IterationName(n), Values: args.Values(), Stats: geomeans})
		res.Iterations++
	}
	return nil
}

// invoke runs one circuit and records its outcome. The returned stats are
// all Unmatched when the tool failed.
func (r *Runner) invoke(ctx context.Context, n int, args ArgumentSet, cmd Command, circuit string, patterns []Pattern, reports *ReportWriter, res *Result) ([]string, error) {
	circuitCmd := Command(Substitute(cmd, map[string]string{"circuit": circuit}))

	start := r.Clock.Now()
	out := r.Executor.Run(ctx, circuitCmd)
	elapsed := r.Clock.Since(start)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sweep interrupted during %s %s: %w", IterationName(n), circuit, err)
	}

	stats := NewStatsRow(len(patterns))
	if out.Failed {
		fmt.Fprintln(r.Progress, "        Error!")
		monitoring.Logf("%s %s: tool reported errors: %s", IterationName(n), circuit, firstLine(out.Stderr))
		res.Failures++
	} else {
		stats = Extract(out.Stdout, patterns)
		for _, name := range Missing(out.Stdout, patterns) {
			monitoring.Logf("stat %q not found for %s", name, circuit)
		}
	}

	if err := r.removeByproducts(circuit); err != nil {
		return nil, err
	}
	if err := reports.WriteCircuit(n, args, circuit, stats, out.Transcript); err != nil {
		return nil, err
	}
	res.Invocations++
	res.PerCircuit[circuit] = append(res.PerCircuit[circuit], Row{Label: IterationName(n), Values: args.Values(), Stats: stats})

	if r.Recorder != nil {
		err := r.Recorder.RecordInvocation(ctx, Invocation{
			Iteration: n,
			Circuit:   circuit,
			Arguments: args,
			Command:   circuitCmd,
			Failed:    out.Failed,
			StatNames: res.StatNames,
			Stats:     stats,
			Duration:  elapsed,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record %s %s: %w", IterationName(n), circuit, err)
		}
	}
	return stats, nil
}

// removeByproducts deletes the tool's leftover files for circuit. Files
// that do not exist are ignored.
func (r *Runner) removeByproducts(circuit string) error {
	templates := append(clone(DefaultByproducts), r.Experiment.Byproducts...)
	for _, tmpl := range Substitute(templates, map[string]string{"circuit": circuit}) {
		path := tmpl
		if !filepath.IsAbs(path) {
			path = filepath.Join(r.WorkDir, path)
		}
		if err := fsutil.RemoveIfExists(r.FS, path); err != nil {
			return fmt.Errorf("failed to remove byproduct %s: %w", path, err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
