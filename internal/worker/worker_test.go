package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"buildq/internal/domain"
	"buildq/internal/gitsync"
	"buildq/internal/registry"

	"github.com/rs/zerolog"
)

type stubSync struct {
	mu       sync.Mutex
	branches []string
	fn       func(branch string) (gitsync.CommitInfo, error)
}

func (s *stubSync) Sync(ctx context.Context, branch string) (gitsync.CommitInfo, error) {
	s.mu.Lock()
	s.branches = append(s.branches, branch)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(branch)
	}
	return gitsync.CommitInfo{ShortHash: "abc1234", Subject: "ok"}, nil
}

func (s *stubSync) synced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.branches...)
}

type stubPipe struct {
	mu    sync.Mutex
	tasks []string
	fn    func(t *domain.Task) (string, error)
}

func (p *stubPipe) Run(ctx context.Context, t *domain.Task) (string, error) {
	p.mu.Lock()
	p.tasks = append(p.tasks, t.ID)
	p.mu.Unlock()
	if p.fn != nil {
		return p.fn(t)
	}
	return "out.vsix", nil
}

func (p *stubPipe) ran() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tasks...)
}

func startWorker(t *testing.T, reg *registry.Registry, s Synchronizer, p Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	w := New(reg, s, p, zerolog.Nop())
	go func() { _ = w.Run(ctx) }()
}

func waitTerminal(t *testing.T, task *domain.Task) domain.State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := task.State(); s.Terminal() {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state (now %s)", task.ID, task.State())
	return ""
}

func TestWorkerCompletesTask(t *testing.T) {
	reg := registry.New()
	startWorker(t, reg, &stubSync{}, &stubPipe{})

	task := domain.NewTask("task-1", "main", "")
	reg.Enqueue(task)

	if got := waitTerminal(t, task); got != domain.StateCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	snap := task.Snapshot()
	if snap.ResultFile != "out.vsix" {
		t.Errorf("result file = %q", snap.ResultFile)
	}
	if snap.StartedAt.IsZero() || snap.EndedAt.IsZero() {
		t.Error("start/end timestamps not recorded")
	}
	if reg.Current() != nil {
		t.Error("current task not cleared after completion")
	}
}

func TestWorkerSyncFailureSkipsBuild(t *testing.T) {
	reg := registry.New()
	pipe := &stubPipe{}
	startWorker(t, reg, &stubSync{
		fn: func(string) (gitsync.CommitInfo, error) {
			return gitsync.UnknownCommit, fmt.Errorf("branch %q: %w", "nope", gitsync.ErrRemoteBranchMissing)
		},
	}, pipe)

	task := domain.NewTask("task-1", "nope", "")
	reg.Enqueue(task)

	if got := waitTerminal(t, task); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	snap := task.Snapshot()
	if !strings.Contains(snap.ErrorMessage, "branch sync failed") ||
		!strings.Contains(snap.ErrorMessage, "does not exist") {
		t.Errorf("error message = %q", snap.ErrorMessage)
	}
	if len(pipe.ran()) != 0 {
		t.Error("pipeline ran after sync failed")
	}
}

func TestWorkerBuildFailure(t *testing.T) {
	reg := registry.New()
	startWorker(t, reg, &stubSync{}, &stubPipe{
		fn: func(*domain.Task) (string, error) {
			return "", errors.New("npm run build failed (exit code: 1)")
		},
	})

	task := domain.NewTask("task-1", "main", "")
	reg.Enqueue(task)

	if got := waitTerminal(t, task); got != domain.StateFailed {
		t.Fatalf("state = %s, want failed", got)
	}
	if got := task.Snapshot().ErrorMessage; !strings.Contains(got, "npm run build failed") {
		t.Errorf("error message = %q", got)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	reg := registry.New()
	startWorker(t, reg, &stubSync{
		fn: func(branch string) (gitsync.CommitInfo, error) {
			if branch == "bad" {
				panic("synchronizer bug")
			}
			return gitsync.CommitInfo{ShortHash: "abc1234", Subject: "ok"}, nil
		},
	}, &stubPipe{})

	bad := domain.NewTask("task-bad", "bad", "")
	good := domain.NewTask("task-good", "main", "")
	reg.Enqueue(bad)
	reg.Enqueue(good)

	if got := waitTerminal(t, bad); got != domain.StateFailed {
		t.Fatalf("panicked task state = %s, want failed", got)
	}
	if msg := bad.Snapshot().ErrorMessage; !strings.Contains(msg, "internal error") {
		t.Errorf("panicked task error message = %q", msg)
	}
	// The loop keeps going after the panic.
	if got := waitTerminal(t, good); got != domain.StateCompleted {
		t.Fatalf("next task state = %s, want completed", got)
	}
	if reg.Current() != nil {
		t.Error("current task not cleared after panic")
	}
}

func TestWorkerProcessesInSubmissionOrder(t *testing.T) {
	reg := registry.New()
	sync := &stubSync{}

	const n = 4
	tasks := make([]*domain.Task, n)
	for i := range tasks {
		tasks[i] = domain.NewTask(fmt.Sprintf("task-%d", i), fmt.Sprintf("branch-%d", i), "")
		reg.Enqueue(tasks[i])
	}
	startWorker(t, reg, sync, &stubPipe{})

	for _, task := range tasks {
		waitTerminal(t, task)
	}
	got := sync.synced()
	for i := 0; i < n; i++ {
		if got[i] != fmt.Sprintf("branch-%d", i) {
			t.Fatalf("execution order = %v, want submission order", got)
		}
	}
}
