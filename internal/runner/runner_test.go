package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testRunner() *Runner {
	return New(zerolog.Nop())
}

func TestRunCapturesStdout(t *testing.T) {
	res, err := testRunner().Run(context.Background(), t.TempDir(), 5*time.Second,
		[]string{"sh", "-c", "echo hello; echo oops >&2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestRunClassifiesExitCode(t *testing.T) {
	res, err := testRunner().Run(context.Background(), t.TempDir(), 5*time.Second,
		[]string{"sh", "-c", "echo partial; exit 3"})

	var ee *ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Code != 3 {
		t.Errorf("exit code = %d, want 3", ee.Code)
	}
	if strings.TrimSpace(res.Stdout) != "partial" {
		t.Errorf("output on failure = %q, want captured stdout", res.Stdout)
	}
}

func TestRunTimesOut(t *testing.T) {
	start := time.Now()
	_, err := testRunner().Run(context.Background(), t.TempDir(), 100*time.Millisecond,
		[]string{"sleep", "5"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if took := time.Since(start); took > 3*time.Second {
		t.Errorf("timeout took %s, command was not killed", took)
	}
}

func TestRunTimeoutKillsProcessTree(t *testing.T) {
	// A background child inherits the output pipes; if only the direct
	// shell died, Run would block until the child exits on its own.
	start := time.Now()
	_, err := testRunner().Run(context.Background(), t.TempDir(), 100*time.Millisecond,
		[]string{"sh", "-c", "(sleep 30; echo late) & sleep 30"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if took := time.Since(start); took > 8*time.Second {
		t.Errorf("timeout took %s, a surviving grandchild held the pipes", took)
	}
}

func TestRunSpawnError(t *testing.T) {
	_, err := testRunner().Run(context.Background(), t.TempDir(), time.Second,
		[]string{"definitely-not-a-real-binary-xyz"})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
}

func TestRunEmptyCommand(t *testing.T) {
	_, err := testRunner().Run(context.Background(), t.TempDir(), time.Second, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
}
