package sweep

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/placesweep/internal/config"
	"github.com/banshee-data/placesweep/internal/fsutil"
	"github.com/banshee-data/placesweep/internal/monitoring"
	"github.com/banshee-data/placesweep/internal/testutil"
	"github.com/banshee-data/placesweep/internal/timeutil"
)

// fakeExecutor answers each command through respond and records it.
type fakeExecutor struct {
	calls   []Command
	respond func(cmd Command) (stdout, stderr string)
	after   func()
}

func (f *fakeExecutor) Run(_ context.Context, cmd Command) ProcessResult {
	f.calls = append(f.calls, cmd)
	stdout, stderr := f.respond(cmd)
	if f.after != nil {
		f.after()
	}
	return newProcessResult(cmd.String(), stdout, stderr)
}

type memRecorder struct {
	invocations []Invocation
	err         error
}

func (m *memRecorder) RecordInvocation(_ context.Context, inv Invocation) error {
	m.invocations = append(m.invocations, inv)
	return m.err
}

func testExperiment() *config.Experiment {
	return &config.Experiment{
		Architecture: "arch.xml",
		BlifFile:     "{circuit}.blif",
		NetFile:      "{circuit}.net",
		Placer:       config.PlacerJava,
		Stats:        []config.Stat{{Name: "time", Pattern: `Time: ([0-9.]+)`}},
		Circuits:     []string{"c1", "c2"},
		Arguments: config.Arguments{
			Names:  []string{"--seed"},
			Values: [][]string{{"1", "2"}},
		},
	}
}

func hasToken(cmd Command, tok string) bool {
	for _, t := range cmd {
		if t == tok {
			return true
		}
	}
	return false
}

func newTestRunner(exp *config.Experiment, exec Executor) (*Runner, *fsutil.MemoryFileSystem, *bytes.Buffer) {
	fsys := fsutil.NewMemoryFileSystem()
	progress := &bytes.Buffer{}
	return &Runner{
		Experiment: exp,
		OutputDir:  "/runs/exp",
		WorkDir:    "/tool",
		FS:         fsys,
		Executor:   exec,
		Clock:      timeutil.NewMockClock(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)),
		Progress:   progress,
	}, fsys, progress
}

func TestRunner_TwoSeedsTwoCircuits(t *testing.T) {
	exec := &fakeExecutor{respond: func(Command) (string, string) { return "Time: 4.0\n", "" }}
	r, fsys, _ := newTestRunner(testExperiment(), exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, exec.calls, 4)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 4, res.Invocations)
	assert.Zero(t, res.Failures)

	summary := strings.Split(strings.TrimSpace(string(mustRead(t, fsys, "/runs/exp/summary.csv"))), "\n")
	assert.Equal(t, []string{"run,--seed,time", "arguments0,1,4", "arguments1,2,4"}, summary)

	for _, c := range []string{"c1", "c2"} {
		lines := strings.Split(strings.TrimSpace(string(mustRead(t, fsys, "/runs/exp/"+c+".csv"))), "\n")
		assert.Equal(t, []string{"run,--seed,time", "arguments0,1,4.0", "arguments1,2,4.0"}, lines)
	}

	for _, it := range []string{"arguments0", "arguments1"} {
		stats := string(mustRead(t, fsys, "/runs/exp/"+it+"/stats.csv"))
		assert.Equal(t, 2, strings.Count(stats, "4.0\n"), stats)
		assert.Equal(t, 1, strings.Count(stats, "\ngeomeans,"), stats)
	}
}

func TestRunner_FailedCircuitGetsZeroRow(t *testing.T) {
	lines, restore := monitoring.Capture()
	defer restore()

	exp := testExperiment()
	exp.Arguments.Values = [][]string{{"1"}}
	exec := &fakeExecutor{respond: func(cmd Command) (string, string) {
		if hasToken(cmd, "c1.blif") {
			return "Time: 5.0\n", ""
		}
		return "", "segfault in router\n"
	}}
	r, fsys, progress := newTestRunner(exp, exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures)

	assert.Equal(t, "run,--seed,time\narguments0,1,5.0\n", string(mustRead(t, fsys, "/runs/exp/c1.csv")))
	assert.Equal(t, "run,--seed,time\narguments0,1,0\n", string(mustRead(t, fsys, "/runs/exp/c2.csv")))
	assert.Equal(t, "run,--seed,time\narguments0,1,0\n", string(mustRead(t, fsys, "/runs/exp/summary.csv")))

	log := string(mustRead(t, fsys, "/runs/exp/arguments0/c2.log"))
	assert.Contains(t, log, "There was a problem with command")
	assert.Contains(t, log, "segfault in router")

	wantProgress := "2024-03-01 09:30:00\narguments0: --seed 1\n    c1\n    c2\n        Error!\n"
	assert.Equal(t, wantProgress, progress.String())
	require.NotEmpty(t, *lines)
	assert.Contains(t, (*lines)[0], "segfault in router")
}

func TestRunner_CommandBindings(t *testing.T) {
	exp := testExperiment()
	exp.Arguments.Values = [][]string{{"7"}}
	exp.Circuits = []string{"alu4"}
	exec := &fakeExecutor{respond: func(Command) (string, string) { return "", "" }}
	r, _, _ := newTestRunner(exp, exec)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)

	want := Command{
		"java", "-cp", "bin", "-Xmx30g", "interfaces.CLI",
		"arch.xml", "alu4.blif",
		"--net_file", "alu4.net",
		"--output_place_file", "/runs/exp/arguments0/alu4.place",
		"--seed", "7",
	}
	if diff := cmp.Diff(want, exec.calls[0]); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}
}

func TestRunner_RouteAddsStats(t *testing.T) {
	exp := testExperiment()
	exp.Route = true
	exp.Circuits = []string{"c1"}
	exp.Arguments.Values = [][]string{{"1"}}
	exec := &fakeExecutor{respond: func(Command) (string, string) {
		return "Time: 2\nTotal wirelength: 300, average net length: 3\nFinal critical path: 8.5 ns\n", ""
	}}
	r, fsys, _ := newTestRunner(exp, exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"time", "post-routing bb cost", "post-routing max delay"}, res.StatNames)
	assert.Equal(t,
		"run,--seed,time,post-routing bb cost,post-routing max delay\narguments0,1,2,300,8.5\n",
		string(mustRead(t, fsys, "/runs/exp/summary.csv")))
	assert.True(t, hasToken(exec.calls[0], "--route"))
	assert.True(t, hasToken(exec.calls[0], ";"))
}

func TestRunner_MissingStatIsLogged(t *testing.T) {
	lines, restore := monitoring.Capture()
	defer restore()

	exp := testExperiment()
	exp.Circuits = []string{"c1"}
	exp.Arguments.Values = [][]string{{"1"}}
	exec := &fakeExecutor{respond: func(Command) (string, string) { return "done\n", "" }}
	r, _, _ := newTestRunner(exp, exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Failures)
	assert.Contains(t, *lines, `stat "time" not found for c1`)
}

func TestRunner_ZeroArgumentSets(t *testing.T) {
	exp := testExperiment()
	exp.Arguments.Values = [][]string{{}}
	exec := &fakeExecutor{respond: func(Command) (string, string) { return "", "" }}
	r, fsys, _ := newTestRunner(exp, exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, exec.calls)
	assert.Zero(t, res.Iterations)
	assert.Equal(t, "run,--seed,time\n", string(mustRead(t, fsys, "/runs/exp/summary.csv")))
}

func TestRunner_ConfigErrorsBeforeReports(t *testing.T) {
	exp := testExperiment()
	exp.Stats = []config.Stat{{Name: "bad", Pattern: `(`}}
	r, fsys, _ := newTestRunner(exp, &fakeExecutor{})

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, fsys.Files("/runs"))

	exp = testExperiment()
	exp.Placer = "annealer"
	r, fsys, _ = newTestRunner(exp, &fakeExecutor{})
	_, err = r.Run(context.Background())
	assert.True(t, errors.Is(err, config.ErrUnknownPlacer))
	assert.Empty(t, fsys.Files("/runs"))

	exp = testExperiment()
	exp.Circuits = []string{"c1", "../escape"}
	r, fsys, _ = newTestRunner(exp, &fakeExecutor{})
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path separator")
	assert.Empty(t, fsys.Files("/runs"))
}

func TestRunner_Byproducts(t *testing.T) {
	exp := testExperiment()
	exp.Circuits = []string{"c1"}
	exp.Arguments.Values = [][]string{{"1"}}
	exp.Byproducts = []string{"{circuit}.extra", "/abs/{circuit}.tmp"}

	var fsys *fsutil.MemoryFileSystem
	exec := &fakeExecutor{respond: func(Command) (string, string) {
		for _, p := range []string{"/tool/c1.critical_path.out", "/tool/vpr_stdout.log", "/tool/c1.extra", "/abs/c1.tmp"} {
			require.NoError(t, fsys.WriteFile(p, []byte("x"), 0o644))
		}
		return "Time: 1\n", ""
	}}
	r, mem, _ := newTestRunner(exp, exec)
	fsys = mem
	require.NoError(t, fsys.WriteFile("/tool/unrelated.txt", []byte("keep"), 0o644))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/tool/unrelated.txt"}, fsys.Files("/tool"))
	assert.False(t, fsys.Exists("/abs/c1.tmp"))
}

func TestRunner_ByproductRemovalErrorIsFatal(t *testing.T) {
	exp := testExperiment()
	var fsys *fsutil.MemoryFileSystem
	exec := &fakeExecutor{respond: func(Command) (string, string) {
		require.NoError(t, fsys.WriteFile("/tool/vpr_stdout.log", []byte("x"), 0o644))
		return "Time: 1\n", ""
	}}
	r, mem, _ := newTestRunner(exp, exec)
	fsys = mem
	fsys.RemoveErr = syscall.EACCES

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EACCES))
	assert.Len(t, exec.calls, 1)
}

func TestRunner_Recorder(t *testing.T) {
	exp := testExperiment()
	exec := &fakeExecutor{respond: func(cmd Command) (string, string) {
		if hasToken(cmd, "c2.blif") && hasToken(cmd, "2") {
			return "", "boom"
		}
		return "Time: 3\n", ""
	}}
	r, _, _ := newTestRunner(exp, exec)
	rec := &memRecorder{}
	r.Recorder = rec

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, rec.invocations, 4)

	last := rec.invocations[3]
	assert.Equal(t, 1, last.Iteration)
	assert.Equal(t, "c2", last.Circuit)
	assert.True(t, last.Failed)
	assert.Equal(t, []string{"0"}, last.Stats)
	assert.Equal(t, ArgumentSet{"--seed", "2"}, last.Arguments)

	rec.err = errors.New("disk full")
	rec.invocations = nil
	r2, _, _ := newTestRunner(exp, exec)
	r2.Recorder = rec
	_, err = r2.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestRunner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{
		respond: func(Command) (string, string) { return "Time: 1\n", "" },
	}
	exec.after = func() {
		if len(exec.calls) == 2 {
			cancel()
		}
	}
	r, fsys, _ := newTestRunner(testExperiment(), exec)

	res, err := r.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Len(t, exec.calls, 2)
	assert.Equal(t, 1, res.Invocations)

	// Reports were closed with only the completed work in them.
	assert.Equal(t, "run,--seed,time\n", string(mustRead(t, fsys, "/runs/exp/summary.csv")))
	assert.Equal(t, "run,--seed,time\narguments0,1,1\n", string(mustRead(t, fsys, "/runs/exp/c1.csv")))
}

func TestRunner_ResultRows(t *testing.T) {
	exec := &fakeExecutor{respond: func(cmd Command) (string, string) {
		if hasToken(cmd, "c1.blif") {
			return "Time: 2\n", ""
		}
		return "Time: 8\n", ""
	}}
	r, _, _ := newTestRunner(testExperiment(), exec)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	want := []Row{
		{Label: "arguments0", Values: []string{"1"}, Stats: []string{"4"}},
		{Label: "arguments1", Values: []string{"2"}, Stats: []string{"4"}},
	}
	if diff := cmp.Diff(want, res.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, res.PerCircuit["c1"], 2)
	assert.Equal(t, []string{"8"}, res.PerCircuit["c2"][1].Stats)
}

func mustRead(t *testing.T, fsys fsutil.FileSystem, path string) []byte {
	t.Helper()
	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	return data
}

// The remaining tests drive real processes through fake placer scripts.

func TestRunner_EndToEnd_FakeJavaPlacer(t *testing.T) {
	binDir := t.TempDir()
	testutil.WriteFakeTool(t, binDir, "java", `
for a in "$@"; do
  case "$a" in
    c1.blif) echo "Time: 5.0" ;;
    c2.blif) echo "c2 failed to place" >&2 ;;
  esac
done`)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	workDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exp")
	r := &Runner{
		Experiment: testExperiment(),
		OutputDir:  outDir,
		WorkDir:    workDir,
	}

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Invocations)
	assert.Equal(t, 2, res.Failures)

	c1 := testutil.ReadCSV(t, filepath.Join(outDir, "c1.csv"))
	c2 := testutil.ReadCSV(t, filepath.Join(outDir, "c2.csv"))
	assert.Equal(t, [][]string{{"run", "--seed", "time"}, {"arguments0", "1", "5.0"}, {"arguments1", "2", "5.0"}}, c1)
	assert.Equal(t, [][]string{{"run", "--seed", "time"}, {"arguments0", "1", "0"}, {"arguments1", "2", "0"}}, c2)

	summary := testutil.ReadCSV(t, filepath.Join(outDir, SummaryFile))
	assert.Len(t, summary, 3)

	stats := testutil.ReadCSV(t, filepath.Join(outDir, "arguments1", IterationStats))
	// header, two circuits, geomeans and the two traceability rows
	require.Len(t, stats, 6)
	assert.Equal(t, []string{"geomeans", "2", "0"}, stats[3])
	assert.Equal(t, "--seed 2", stats[4][3])
	assert.True(t, strings.HasPrefix(stats[5][3], "java -cp bin"))
}

func TestRunner_EndToEnd_VPRPlacerCleansByproducts(t *testing.T) {
	binDir := t.TempDir()
	testutil.WriteFakeTool(t, binDir, "java", `echo "Cost: 10"`)
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	workDir := t.TempDir()
	testutil.WriteFakeTool(t, workDir, "vpr", `
touch "$2.critical_path.out" "$2.slack.out" vpr_stdout.log
echo "Time: 3"`)
	// Left over from an earlier run.
	testutil.WriteFile(t, filepath.Join(workDir, "c2.slack.out"), "stale")

	exp := testExperiment()
	exp.Placer = config.PlacerVPR
	exp.Stats = append(exp.Stats, config.Stat{Name: "cost", Pattern: `Cost: ([0-9]+)`})
	exp.Arguments.Values = [][]string{{"1"}}

	outDir := filepath.Join(t.TempDir(), "exp")
	r := &Runner{Experiment: exp, OutputDir: outDir, WorkDir: workDir}
	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Failures)

	for _, name := range []string{"c1.critical_path.out", "c1.slack.out", "c2.critical_path.out", "c2.slack.out", "vpr_stdout.log"} {
		_, err := os.Stat(filepath.Join(workDir, name))
		assert.True(t, errors.Is(err, os.ErrNotExist), "%s should be removed", name)
	}

	summary := testutil.ReadCSV(t, filepath.Join(outDir, SummaryFile))
	assert.Equal(t, []string{"arguments0", "1", "3", "10"}, summary[1])
}
