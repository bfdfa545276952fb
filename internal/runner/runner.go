// Package runner executes a single external command with a timeout
// and reduces every failure mode to a typed error: the process could
// not start, it exceeded its deadline, or it exited non-zero. Nothing
// above this package ever sees a raw exec error.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// waitDelay bounds how long Wait may hold on to still-open output
// pipes after the process group was killed.
const waitDelay = 5 * time.Second

var ErrTimeout = errors.New("command timed out")

type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return "failed to start command: " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

type ExitError struct {
	Code   int
	Result Result
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command failed (exit code: %d)", e.Code)
}

// Result carries whatever output the process produced, including on
// failure and timeout, so callers can log partial output.
type Result struct {
	Stdout string
	Stderr string
}

type Runner struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Runner {
	return &Runner{log: log}
}

// Run executes argv in dir, waiting at most timeout. Commands are
// argv arrays, never shell strings, so argument content is inert.
func (r *Runner) Run(ctx context.Context, dir string, timeout time.Duration, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, &SpawnError{Err: errors.New("empty command")}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Build tools fork child processes that inherit the output pipes.
	// Killing only the direct child leaves a hung grandchild holding
	// the pipes and Wait blocked past the deadline, so cancellation
	// kills the whole process group, with WaitDelay as a backstop for
	// anything that escaped the group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		r.log.Debug().Str("cmd", argv[0]).Dur("took", time.Since(start)).Msg("command finished")
		return res, nil
	}
	if cctx.Err() == context.DeadlineExceeded {
		r.log.Warn().Str("cmd", argv[0]).Dur("timeout", timeout).Msg("command timed out")
		return res, ErrTimeout
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return res, &ExitError{Code: ee.ExitCode(), Result: res}
	}
	return res, &SpawnError{Err: err}
}
