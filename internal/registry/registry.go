// Package registry holds all handler-visible task state: the pending
// FIFO queue, the full task history, and the currently executing task.
// A single mutex guards every operation and is never held across
// blocking work.
package registry

import (
	"context"
	"errors"
	"sync"

	"buildq/internal/domain"
)

var ErrNotFound = errors.New("task not found")

type Registry struct {
	mu      sync.Mutex
	queue   []*domain.Task
	history map[string]*domain.Task
	current *domain.Task
	wake    chan struct{}
}

func New() *Registry {
	return &Registry{
		history: make(map[string]*domain.Task),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue appends the task to the pending queue, records it in the
// history, and returns its 1-based queue position.
func (r *Registry) Enqueue(t *domain.Task) int {
	r.mu.Lock()
	r.queue = append(r.queue, t)
	r.history[t.ID] = t
	pos := len(r.queue)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return pos
}

// Dequeue blocks until a task is available or the context is
// cancelled. Removing the head of the queue and marking it current
// happen under one lock acquisition, so a task is never observed both
// queued and executing.
func (r *Registry) Dequeue(ctx context.Context) (*domain.Task, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			t := r.queue[0]
			r.queue = r.queue[1:]
			r.current = t
			r.mu.Unlock()
			return t, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.wake:
		}
	}
}

// ClearCurrent drops the currently-executing pointer. Called by the
// worker when a task reaches a terminal state.
func (r *Registry) ClearCurrent() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

func (r *Registry) Current() *domain.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Position returns the 1-based rank of the task in the pending queue,
// or 0 if it is not queued (running, finished, or unknown).
func (r *Registry) Position(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, t := range r.queue {
		if t.ID == id {
			return i + 1
		}
	}
	return 0
}

func (r *Registry) Get(id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.history[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Size is the number of tasks ever submitted in this process.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
