package sweep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ProcessResult is the captured outcome of one tool invocation.
type ProcessResult struct {
	Stdout string
	Stderr string
	// Failed is set whenever anything was written to stderr, whatever
	// the exit status.
	Failed bool
	// Transcript is the text stored in the invocation log.
	Transcript string
}

// ProcessRunner executes commands without a shell. Tokens equal to
// StageSeparator split a command into stages that run one after another.
type ProcessRunner struct {
	// Dir is the working directory of every stage.
	Dir string
	// Timeout bounds a whole invocation. Zero disables it.
	Timeout time.Duration
}

// Run executes cmd and blocks until every stage has exited and its output
// has been collected.
func (r *ProcessRunner) Run(ctx context.Context, cmd Command) ProcessResult {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	for _, stage := range splitStages(cmd) {
		c := exec.CommandContext(ctx, stage[0], stage[1:]...)
		c.Dir = r.Dir
		c.Stdout = &stdout
		c.Stderr = &stderr
		if r.Timeout > 0 {
			// Bounds the kill path only. Without a timeout Run waits for
			// EOF on both pipes, including output from background children.
			c.WaitDelay = time.Second
		}

		err := c.Run()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			fmt.Fprintf(&stderr, "command timed out after %s\n", r.Timeout)
			break
		}
		if ctx.Err() != nil {
			fmt.Fprintf(&stderr, "command interrupted: %v\n", ctx.Err())
			break
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			// A stage that never started reports like a shell would.
			fmt.Fprintf(&stderr, "%s: %v\n", stage[0], err)
		}
	}

	return newProcessResult(cmd.String(), stdout.String(), stderr.String())
}

func newProcessResult(cmdline, stdout, stderr string) ProcessResult {
	res := ProcessResult{Stdout: stdout, Stderr: stderr, Failed: stderr != ""}
	if res.Failed {
		res.Transcript = stdout + fmt.Sprintf("%s\n\nThere was a problem with command \"%s\":\n\n%s", stdout, cmdline, stderr)
	} else {
		res.Transcript = fmt.Sprintf("Command: %s\n\n%s", cmdline, stdout)
	}
	return res
}

// splitStages cuts cmd at separator tokens, dropping empty stages.
func splitStages(cmd Command) [][]string {
	var stages [][]string
	var cur []string
	for _, tok := range cmd {
		if tok == StageSeparator {
			if len(cur) > 0 {
				stages = append(stages, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		stages = append(stages, cur)
	}
	return stages
}

// DryRun prints each command instead of running it. Every invocation
// succeeds with empty output.
type DryRun struct {
	Out io.Writer
}

func (d DryRun) Run(_ context.Context, cmd Command) ProcessResult {
	fmt.Fprintf(d.Out, "        [dry-run] %s\n", cmd)
	return newProcessResult(cmd.String(), "", "")
}
