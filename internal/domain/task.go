package domain

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type State string

const (
	StateQueued    State = "queued"
	StateFetching  State = "fetching"
	StateBuilding  State = "building"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var ErrInvalidTransition = errors.New("invalid state transition")

// validNext encodes the task lifecycle: queued -> fetching ->
// building -> completed/failed. A task never re-enters queued and
// never leaves a terminal state.
var validNext = map[State][]State{
	StateQueued:   {StateFetching},
	StateFetching: {StateBuilding, StateFailed},
	StateBuilding: {StateCompleted, StateFailed},
}

// Task is one submitted build request. The identity fields are set at
// creation and immutable; everything else is mutated only by the
// worker and guarded by the task's own mutex so status handlers can
// read a consistent snapshot while a build is streaming log output.
type Task struct {
	ID      string
	Branch  string
	LogPath string

	mu           sync.Mutex
	state        State
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	log          strings.Builder
	lastMessage  string
	errorMessage string
	resultFile   string
}

func NewTask(id, branch, logPath string) *Task {
	return &Task{
		ID:        id,
		Branch:    branch,
		LogPath:   logPath,
		state:     StateQueued,
		createdAt: time.Now(),
	}
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the task to the given state if the lifecycle
// allows it.
func (t *Task) Transition(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, next := range validNext[t.state] {
		if next == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
}

// MarkStarted records the moment the worker picked the task up.
func (t *Task) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
}

// Fail moves the task to its failed terminal state with a
// human-readable reason. Calling Fail on an already terminal task is
// a no-op so the worker's recovery path cannot clobber a result.
func (t *Task) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.state = StateFailed
	t.errorMessage = reason
	t.endedAt = time.Now()
}

// Complete records the produced artifact and finishes the task.
func (t *Task) Complete(resultFile string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateBuilding {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, StateCompleted)
	}
	t.state = StateCompleted
	t.resultFile = resultFile
	t.endedAt = time.Now()
	return nil
}

// InitLog starts the per-task log file over with the given header and
// resets the in-memory copy to match.
func (t *Task) InitLog(header string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.Reset()
	t.log.WriteString(header)
	if err := os.WriteFile(t.LogPath, []byte(header), 0o644); err != nil {
		return fmt.Errorf("write task log: %w", err)
	}
	return nil
}

// AppendLog appends a chunk to the in-memory log and mirrors it to the
// per-task log file, then refreshes the last progress message from the
// chunk's content lines.
func (t *Task) AppendLog(chunk string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.log.WriteString(chunk)
	if line := LastContentLine(chunk); line != "" {
		t.lastMessage = line
	}
	f, err := os.OpenFile(t.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open task log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(chunk); err != nil {
		return fmt.Errorf("write task log: %w", err)
	}
	return nil
}

// Snapshot is a point-in-time copy of the task's mutable fields for
// handlers to render without holding the task lock.
type Snapshot struct {
	ID           string
	Branch       string
	State        State
	CreatedAt    time.Time
	StartedAt    time.Time
	EndedAt      time.Time
	Log          string
	LastMessage  string
	ErrorMessage string
	ResultFile   string
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:           t.ID,
		Branch:       t.Branch,
		State:        t.state,
		CreatedAt:    t.createdAt,
		StartedAt:    t.startedAt,
		EndedAt:      t.endedAt,
		Log:          t.log.String(),
		LastMessage:  t.lastMessage,
		ErrorMessage: t.errorMessage,
		ResultFile:   t.resultFile,
	}
}

// LastContentLine returns the last line of chunk that is neither blank
// nor composed solely of separator characters, so banner and divider
// lines are never mistaken for progress messages.
func LastContentLine(chunk string) string {
	lines := strings.Split(chunk, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Trim(line, "=-*") == "" {
			continue
		}
		return line
	}
	return ""
}
