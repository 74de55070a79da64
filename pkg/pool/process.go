package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Command is the opaque executable specification handed to a Launcher. The
// scheduler never inspects it beyond logging.
type Command struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ") // Consider proper shell quoting, not trivial.
}

// Result is the outcome of a terminated job process.
type Result struct {
	// ExitCode is the process exit code, TerminatedBySignal for a signal
	// death, or NotTerminated if the process never ran.
	ExitCode int

	// Err is set when the job failed before or outside normal process exit,
	// e.g. a pre-hook or launch failure.
	Err error
}

// Success reports whether the job ran and exited cleanly.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// ProcessHandle is the capability to observe a launched process. Poll is a
// non-blocking liveness check; the scheduler calls it every tick and never
// blocks waiting for an exit.
type ProcessHandle interface {
	// Poll reports whether the process has exited, and with what result.
	// Before exit it returns (Result{}, false).
	Poll() (Result, bool)
}

// Launcher starts the process for an admitted job. It is the pool's only
// path into OS-level concurrency: the launched process runs independently of
// the scheduling loop, which merely polls the returned handle.
type Launcher interface {
	Launch(id string, command Command) (ProcessHandle, error)
}

// ExecLauncher launches commands with os/exec. The zero value is ready to
// use.
type ExecLauncher struct{}

// Launch starts the command and returns a pollable handle. A goroutine waits
// on the process and records its result for later polls.
func (ExecLauncher) Launch(id string, command Command) (ProcessHandle, error) {
	cmd := exec.Command(command.Path, command.Args...) //nolint:gosec // G204: running caller-supplied commands is this package's purpose
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: cannot start command %q: %w", ErrLaunch, command.String(), err)
	}
	h := &execHandle{}
	go h.wait(cmd)
	return h, nil
}

// CommandPreHook returns a pre-hook that runs the given command to
// completion. Hook commands are assumed to be cheap next to the job itself.
func CommandPreHook(c Command) func() error {
	return func() error {
		if err := exec.Command(c.Path, c.Args...).Run(); err != nil { //nolint:gosec // G204: running caller-supplied commands is this package's purpose
			return fmt.Errorf("command %q: %w", c.String(), err)
		}
		return nil
	}
}

// CommandPostHook returns a post-hook that runs the given command to
// completion, logging any error. Post-hooks run after the job's budget is
// released and cannot fail the job.
func CommandPostHook(c Command) func(Result) {
	return func(Result) {
		if err := exec.Command(c.Path, c.Args...).Run(); err != nil { //nolint:gosec // G204
			slog.Error("post-hook command failed", "command", c.String(), "err", err)
		}
	}
}

// execHandle is the ProcessHandle for processes launched by ExecLauncher.
type execHandle struct {
	mutex  sync.Mutex // protects exited and result, written by the wait goroutine
	exited bool
	result Result
}

func (h *execHandle) Poll() (Result, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.result, h.exited
}

// wait blocks on the process and records its exit result. It must only be
// called once per handle.
func (h *execHandle) wait(cmd *exec.Cmd) {
	waitErr := cmd.Wait()
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.exited = true
	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		h.result = Result{ExitCode: 0}
	case errors.As(waitErr, &exitErr):
		h.result = Result{ExitCode: exitErr.ExitCode()}
	default:
		h.result = Result{ExitCode: NotTerminated, Err: waitErr}
	}
}
