// Package db stores sweep results in a sqlite database so runs can be
// queried and compared after the CSV reports have been written.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/placesweep/internal/sweep"
	"github.com/banshee-data/placesweep/internal/timeutil"
)

// DefaultFileName is the database created inside an experiment directory.
const DefaultFileName = "results.db"

const timeLayout = time.RFC3339Nano

type DB struct {
	*sql.DB
	Clock timeutil.Clock
}

// OpenDB opens (or creates) the database at path and applies the
// embedded migrations.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	// One writer; sqlite serialises anyway.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	db := &DB{DB: sqlDB, Clock: timeutil.RealClock{}}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// RunInfo describes a sweep when it starts.
type RunInfo struct {
	Experiment string
	Placer     string
	Route      bool
}

// Run is a stored sweep.
type Run struct {
	ID          string
	Experiment  string
	Placer      string
	Route       bool
	StartedAt   time.Time
	CompletedAt *time.Time
	Iterations  int
	Invocations int
	Failures    int
}

// InvocationRecord is a stored invocation.
type InvocationRecord struct {
	RunID     string
	Iteration int
	Circuit   string
	Arguments string
	Command   string
	Failed    bool
	Stats     map[string]string
	Duration  time.Duration
}

// RunRecorder writes the invocations of one run. It satisfies
// sweep.Recorder.
type RunRecorder struct {
	db *DB
	ID string
}

// StartRun inserts a run row and returns a recorder bound to it.
func (db *DB) StartRun(ctx context.Context, info RunInfo) (*RunRecorder, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO runs (run_id, experiment, placer, route, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, info.Experiment, info.Placer, info.Route, db.Clock.Now().UTC().Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return &RunRecorder{db: db, ID: id}, nil
}

// RecordInvocation stores one invocation of the run.
func (r *RunRecorder) RecordInvocation(ctx context.Context, inv sweep.Invocation) error {
	stats := make(map[string]string, len(inv.StatNames))
	for i, name := range inv.StatNames {
		if i < len(inv.Stats) {
			stats[name] = inv.Stats[i]
		}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO invocations (run_id, iteration, circuit, arguments, command, failed, stats_json, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, inv.Iteration, inv.Circuit, inv.Arguments.String(), inv.Command.String(),
		inv.Failed, string(statsJSON), inv.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert invocation: %w", err)
	}
	return nil
}

// Complete stamps the run with its totals.
func (r *RunRecorder) Complete(ctx context.Context, res *sweep.Result) error {
	var iterations, invocations, failures int
	if res != nil {
		iterations, invocations, failures = res.Iterations, res.Invocations, res.Failures
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET completed_at = ?, iterations = ?, invocations = ?, failures = ?
		WHERE run_id = ?`,
		r.db.Clock.Now().UTC().Format(timeLayout), iterations, invocations, failures, r.ID)
	if err != nil {
		return fmt.Errorf("failed to complete run %s: %w", r.ID, err)
	}
	return nil
}

// Runs lists stored runs, oldest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, experiment, placer, route, started_at, completed_at, iterations, invocations, failures
		FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			started   string
			completed sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Experiment, &r.Placer, &r.Route, &started, &completed,
			&r.Iterations, &r.Invocations, &r.Failures); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: bad started_at: %w", r.ID, err)
		}
		if completed.Valid {
			t, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: bad completed_at: %w", r.ID, err)
			}
			r.CompletedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Invocations returns the stored invocations of a run in insertion order.
func (db *DB) Invocations(ctx context.Context, runID string) ([]InvocationRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, iteration, circuit, arguments, command, failed, stats_json, duration_ms
		FROM invocations WHERE run_id = ? ORDER BY invocation_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvocationRecord
	for rows.Next() {
		var (
			rec       InvocationRecord
			statsJSON string
			ms        int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Iteration, &rec.Circuit, &rec.Arguments, &rec.Command,
			&rec.Failed, &statsJSON, &ms); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(statsJSON), &rec.Stats); err != nil {
			return nil, fmt.Errorf("invocation %s/%d: bad stats: %w", rec.Circuit, rec.Iteration, err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}
