// Package worker is the single consumer of the task queue. It drives
// each task through synchronize-then-build and is the only code that
// mutates task state after submission, which is what makes "at most
// one task is fetching or building" hold.
package worker

import (
	"context"
	"fmt"

	"buildq/internal/domain"
	"buildq/internal/gitsync"
	"buildq/internal/registry"

	"github.com/rs/zerolog"
)

// Synchronizer brings the checkout to the state of a remote branch.
type Synchronizer interface {
	Sync(ctx context.Context, branch string) (gitsync.CommitInfo, error)
}

// Pipeline runs the build steps for a task and returns the artifact name.
type Pipeline interface {
	Run(ctx context.Context, t *domain.Task) (string, error)
}

type Worker struct {
	reg  *registry.Registry
	sync Synchronizer
	pipe Pipeline
	log  zerolog.Logger
}

func New(reg *registry.Registry, sync Synchronizer, pipe Pipeline, log zerolog.Logger) *Worker {
	return &Worker{reg: reg, sync: sync, pipe: pipe, log: log}
}

// Run loops until the context is cancelled, pulling tasks in FIFO
// order. One bad task never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("build worker started")
	for {
		t, err := w.reg.Dequeue(ctx)
		if err != nil {
			w.log.Info().Msg("build worker stopping")
			return err
		}
		w.process(ctx, t)
	}
}

func (w *Worker) process(ctx context.Context, t *domain.Task) {
	defer w.reg.ClearCurrent()
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Str("task", t.ID).Interface("panic", r).Msg("worker iteration panicked")
			t.Fail(fmt.Sprintf("internal error: %v", r))
		}
	}()

	w.log.Info().Str("task", t.ID).Str("branch", t.Branch).Msg("task dequeued")
	t.MarkStarted()
	if err := t.Transition(domain.StateFetching); err != nil {
		w.log.Error().Str("task", t.ID).Err(err).Msg("task in unexpected state")
		t.Fail(err.Error())
		return
	}

	info, err := w.sync.Sync(ctx, t.Branch)
	if err != nil {
		reason := "branch sync failed: " + err.Error()
		t.Fail(reason)
		w.log.Error().Str("task", t.ID).Str("branch", t.Branch).Err(err).Msg("branch sync failed")
		return
	}
	w.log.Info().
		Str("task", t.ID).
		Str("commit", info.ShortHash).
		Str("subject", info.Subject).
		Msg("branch synchronized, starting build")

	if err := t.Transition(domain.StateBuilding); err != nil {
		w.log.Error().Str("task", t.ID).Err(err).Msg("task in unexpected state")
		t.Fail(err.Error())
		return
	}

	artifact, err := w.pipe.Run(ctx, t)
	if err != nil {
		t.Fail(err.Error())
		w.log.Error().Str("task", t.ID).Err(err).Msg("build failed")
		return
	}

	if err := t.Complete(artifact); err != nil {
		w.log.Error().Str("task", t.ID).Err(err).Msg("could not complete task")
		t.Fail(err.Error())
		return
	}
	w.log.Info().Str("task", t.ID).Str("artifact", artifact).Msg("task completed")
}
