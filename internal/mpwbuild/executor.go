package mpwbuild

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// runner is the subprocess seam. The pipeline only talks to external
// tools (compilers, VCS clients, downloaders, patch, make) through it,
// so tests can swap in a recorder instead of spawning anything.
type runner interface {
	// Run executes the command with stdio wired to the terminal unless
	// the caller set its own writers.
	Run(cmd *exec.Cmd) error
	// Output executes the command and returns its trimmed stdout.
	Output(cmd *exec.Cmd) ([]byte, error)
	// LookPath reports where a tool lives, or an error if not installed.
	LookPath(name string) (string, error)
}

// Executor runs external commands for the pipeline. Commands are
// isolated in their own process group so that cancelling the context
// (operator interrupt) kills the whole child tree, not just the direct
// child.
type Executor struct {
	Context context.Context // context used for cancellation
	Quiet   bool            // Quiet discards child stdout/stderr unless the caller wired its own
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx}
}

func (e *Executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// Run executes the given command, wiring up stdio and isolating the
// child in its own process group for context-based cleanup.
func (e *Executor) Run(cmd *exec.Cmd) error {
	// --- Phase 0: wire up stdio ---
	if cmd.Stdout == nil {
		if e.Quiet {
			cmd.Stdout = io.Discard
		} else {
			cmd.Stdout = os.Stdout
		}
	}
	if cmd.Stderr == nil {
		if e.Quiet {
			cmd.Stderr = io.Discard
		} else {
			cmd.Stderr = os.Stderr
		}
	}

	// --- Phase 1: rebuild with the executor context ---
	finalCmd := exec.CommandContext(e.Context, cmd.Path, cmd.Args[1:]...)
	finalCmd.Dir = cmd.Dir
	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr

	// preserve or inherit the environment
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}

	// --- Phase 2: isolate process group for context-based cleanup ---
	finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// --- Phase 3: start and watch for cancel ---
	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Args[0], err)
	}

	pgid := finalCmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.Context.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	// --- Phase 4: wait and return ---
	if waitErr := finalCmd.Wait(); waitErr != nil {
		if e.Context.Err() != nil {
			time.Sleep(100 * time.Millisecond)
			return fmt.Errorf("command aborted: %v", e.Context.Err())
		}
		return waitErr
	}
	return nil
}

// Output runs the command with captured stdout. Stderr is captured as
// well and folded into the error so probe failures stay diagnosable.
func (e *Executor) Output(cmd *exec.Cmd) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := e.Run(cmd); err != nil {
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		return stdout.Bytes(), err
	}
	return bytes.TrimSpace(stdout.Bytes()), nil
}
