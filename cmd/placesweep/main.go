// Command placesweep runs a placement experiment: every combination of the
// configured placer arguments against every circuit, with the results
// collected under runs/<experiment>.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/placesweep/internal/config"
	"github.com/banshee-data/placesweep/internal/db"
	"github.com/banshee-data/placesweep/internal/monitoring"
	"github.com/banshee-data/placesweep/internal/report"
	"github.com/banshee-data/placesweep/internal/security"
	"github.com/banshee-data/placesweep/internal/sweep"
	"github.com/banshee-data/placesweep/internal/version"
)

type options struct {
	runsDir string
	workDir string
	build   string
	dryRun  bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "placesweep <experiment>",
		Short: "Sweep placer arguments across a set of circuits",
		Long: "placesweep runs the placer once per argument combination and circuit,\n" +
			"extracts the configured statistics and writes summary, per-circuit\n" +
			"and per-argument-set reports next to the experiment's config.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[0], stdout)
		},
	}
	cmd.Flags().StringVar(&opts.runsDir, "runs-dir", "runs", "directory holding experiment folders")
	cmd.Flags().StringVar(&opts.workDir, "workdir", ".", "working directory of the placer tools")
	cmd.Flags().StringVar(&opts.build, "build", "", "command run once in --workdir before the sweep, e.g. ./compile.sh")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print each command instead of running it")
	return cmd
}

func run(ctx context.Context, opts options, experiment string, stdout io.Writer) error {
	expDir, err := security.ResolveWithin(opts.runsDir, experiment)
	if err != nil {
		return err
	}
	cfgPath, err := config.FindExperiment(expDir)
	if err != nil {
		return err
	}
	exp, err := config.LoadExperiment(cfgPath)
	if err != nil {
		return err
	}

	if opts.build != "" && !opts.dryRun {
		if err := runBuild(ctx, opts.build, opts.workDir, stdout); err != nil {
			return err
		}
	}

	runner := &sweep.Runner{
		Experiment: exp,
		OutputDir:  expDir,
		WorkDir:    opts.workDir,
		Progress:   stdout,
	}
	if opts.dryRun {
		runner.Executor = sweep.DryRun{Out: stdout}
	}

	var rec *db.RunRecorder
	if exp.Database {
		store, err := db.OpenDB(filepath.Join(expDir, db.DefaultFileName))
		if err != nil {
			return err
		}
		defer store.Close()
		rec, err = store.StartRun(ctx, db.RunInfo{Experiment: experiment, Placer: string(exp.Placer), Route: exp.Route})
		if err != nil {
			return err
		}
		runner.Recorder = rec
	}

	res, runErr := runner.Run(ctx)
	if rec != nil && res != nil {
		// Stamp the run even when interrupted; the context may be gone.
		if err := rec.Complete(context.WithoutCancel(ctx), res); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	if runErr != nil {
		return runErr
	}

	if err := writeRichReports(exp, expDir, experiment, res); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "done: %d argument sets, %d invocations, %d failed\n", res.Iterations, res.Invocations, res.Failures)
	return nil
}

func writeRichReports(exp *config.Experiment, expDir, title string, res *sweep.Result) error {
	var g errgroup.Group
	if exp.Workbook {
		g.Go(func() error {
			return report.WriteWorkbook(filepath.Join(expDir, report.WorkbookFile), res)
		})
	}
	if exp.Charts {
		g.Go(func() error {
			return report.WriteChartPage(filepath.Join(expDir, report.ChartFile), title, res)
		})
		g.Go(func() error {
			_, err := report.WritePlots(filepath.Join(expDir, report.PlotDir), res)
			return err
		})
	}
	return g.Wait()
}

// runBuild runs the build command once, streaming its output.
func runBuild(ctx context.Context, command, dir string, out io.Writer) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("build command %q failed: %w", command, err)
	}
	monitoring.Logf("build command %q finished", command)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
