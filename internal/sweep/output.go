package sweep

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/placesweep/internal/fsutil"
)

// Report file names inside an experiment directory.
const (
	SummaryFile    = "summary.csv"
	IterationStats = "stats.csv"
)

// IterationName labels the n-th argument set in reports and paths.
func IterationName(n int) string {
	return "arguments" + strconv.Itoa(n)
}

// csvFile wraps csv.Writer and flushes after every row.
type csvFile struct {
	c io.Closer
	w *csv.Writer
}

func createCSV(fsys fsutil.FileSystem, path string, header []string) (*csvFile, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	cf := &csvFile{c: f, w: csv.NewWriter(f)}
	if err := cf.write(header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	return cf, nil
}

func (f *csvFile) write(row []string) error {
	if err := f.w.Write(row); err != nil {
		return err
	}
	f.w.Flush()
	return f.w.Error()
}

func (f *csvFile) close() error {
	f.w.Flush()
	return errors.Join(f.w.Error(), f.c.Close())
}

// ReportWriter emits the summary, per-circuit and per-iteration tables of
// one sweep. Rows are appended and flushed as they are produced; nothing
// already written is revisited.
type ReportWriter struct {
	fs        fsutil.FileSystem
	dir       string
	argNames  []string
	statNames []string

	summary  *csvFile
	circuits map[string]*csvFile
	order    []string

	iter     *csvFile
	iterName string
}

// NewReportWriter opens summary.csv and one <circuit>.csv per circuit
// under dir and writes their headers.
func NewReportWriter(fsys fsutil.FileSystem, dir string, argNames, statNames, circuits []string) (*ReportWriter, error) {
	w := &ReportWriter{
		fs:        fsys,
		dir:       dir,
		argNames:  argNames,
		statNames: statNames,
		circuits:  make(map[string]*csvFile, len(circuits)),
	}

	var err error
	if w.summary, err = createCSV(fsys, filepath.Join(dir, SummaryFile), w.header("run")); err != nil {
		return nil, err
	}
	for _, c := range circuits {
		if _, ok := w.circuits[c]; ok {
			continue
		}
		f, err := createCSV(fsys, filepath.Join(dir, c+".csv"), w.header("run"))
		if err != nil {
			w.Close()
			return nil, err
		}
		w.circuits[c] = f
		w.order = append(w.order, c)
	}
	return w, nil
}

func (w *ReportWriter) header(label string) []string {
	h := make([]string, 0, 1+len(w.argNames)+len(w.statNames))
	h = append(h, label)
	h = append(h, w.argNames...)
	return append(h, w.statNames...)
}

func row(label string, parts ...[]string) []string {
	r := []string{label}
	for _, p := range parts {
		r = append(r, p...)
	}
	return r
}

// IterationDir returns the directory holding an argument set's outputs.
func (w *ReportWriter) IterationDir(n int) string {
	return filepath.Join(w.dir, IterationName(n))
}

// openIteration creates arguments<N>/stats.csv on first use.
func (w *ReportWriter) openIteration(n int) error {
	name := IterationName(n)
	if w.iter != nil && w.iterName == name {
		return nil
	}
	if w.iter != nil {
		if err := w.iter.close(); err != nil {
			return fmt.Errorf("failed to close %s stats: %w", w.iterName, err)
		}
		w.iter = nil
	}
	dir := w.IterationDir(n)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	f, err := createCSV(w.fs, filepath.Join(dir, IterationStats), w.header("circuit"))
	if err != nil {
		return err
	}
	w.iter, w.iterName = f, name
	return nil
}

// WriteCircuit records one invocation: a stats.csv row, a row in the
// circuit's table and the raw transcript as arguments<N>/<circuit>.log.
func (w *ReportWriter) WriteCircuit(n int, args ArgumentSet, circuit string, stats []string, transcript string) error {
	if err := w.openIteration(n); err != nil {
		return err
	}
	values := args.Values()
	if err := w.iter.write(row(circuit, values, stats)); err != nil {
		return fmt.Errorf("failed to write %s stats row for %s: %w", w.iterName, circuit, err)
	}
	cf, ok := w.circuits[circuit]
	if !ok {
		return fmt.Errorf("no report open for circuit %s", circuit)
	}
	if err := cf.write(row(w.iterName, values, stats)); err != nil {
		return fmt.Errorf("failed to write %s row for %s: %w", circuit, w.iterName, err)
	}
	logPath := filepath.Join(w.IterationDir(n), circuit+".log")
	if err := w.fs.WriteFile(logPath, []byte(transcript), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", logPath, err)
	}
	return nil
}

// WriteIteration closes out an argument set: the geomeans and the two
// traceability rows go to stats.csv, and one row goes to summary.csv.
func (w *ReportWriter) WriteIteration(n int, args ArgumentSet, cmd Command, geomeans []string) error {
	if err := w.openIteration(n); err != nil {
		return err
	}
	values := args.Values()
	pad := make([]string, 1+len(w.argNames)+len(w.statNames))

	for _, r := range [][]string{
		{},
		row("geomeans", values, geomeans),
		append(append([]string(nil), pad...), args.String()),
		append(append([]string(nil), pad...), cmd.String()),
	} {
		if err := w.iter.write(r); err != nil {
			return fmt.Errorf("failed to write %s geomeans: %w", w.iterName, err)
		}
	}
	if err := w.summary.write(row(w.iterName, values, geomeans)); err != nil {
		return fmt.Errorf("failed to write summary row for %s: %w", w.iterName, err)
	}

	err := w.iter.close()
	w.iter = nil
	if err != nil {
		return fmt.Errorf("failed to close %s stats: %w", w.iterName, err)
	}
	return nil
}

// Close flushes and closes every open table.
func (w *ReportWriter) Close() error {
	var errs []error
	if w.iter != nil {
		errs = append(errs, w.iter.close())
		w.iter = nil
	}
	for _, c := range w.order {
		errs = append(errs, w.circuits[c].close())
	}
	w.order = nil
	if w.summary != nil {
		errs = append(errs, w.summary.close())
		w.summary = nil
	}
	return errors.Join(errs...)
}
