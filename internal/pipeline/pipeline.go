// Package pipeline runs the ordered install/build/package steps in the
// project directory, streams their output into the task's log, stops
// on the first failure, and resolves the newest packaged artifact on
// success.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buildq/internal/domain"
	"buildq/internal/runner"

	"github.com/rs/zerolog"
)

var ErrNoArtifact = errors.New("build succeeded but produced no artifact")

type StepError struct {
	Step string
	Code int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed (exit code: %d)", e.Step, e.Code)
}

type StepTimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *StepTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Step, e.Timeout)
}

// Step is one named build command in argv form.
type Step struct {
	Name string
	Argv []string
}

type Config struct {
	Steps        []Step
	ProjectDir   string
	ArtifactsDir string
	ArtifactExt  string
	StepTimeout  time.Duration
}

type Pipeline struct {
	run *runner.Runner
	cfg Config
	log zerolog.Logger
}

func New(run *runner.Runner, cfg Config, log zerolog.Logger) *Pipeline {
	return &Pipeline{run: run, cfg: cfg, log: log}
}

var separator = strings.Repeat("=", 60)

// Run drives every step in order under the shared per-step timeout and
// returns the name of the newest artifact. Each step's output is
// appended to the task log before success or failure is decided, so a
// failed step's output is always available for diagnosis.
func (p *Pipeline) Run(ctx context.Context, t *domain.Task) (string, error) {
	header := fmt.Sprintf("task: %s\nbranch: %s\nstarted: %s\n%s\n\n",
		t.ID, t.Branch, time.Now().Format(time.RFC3339), separator)
	if err := t.InitLog(header); err != nil {
		return "", fmt.Errorf("init task log: %w", err)
	}

	for _, step := range p.cfg.Steps {
		banner := fmt.Sprintf("\n%s\nrun: %s\n%s\n", separator, step.Name, separator)
		if err := t.AppendLog(banner); err != nil {
			return "", fmt.Errorf("append task log: %w", err)
		}
		p.log.Info().Str("task", t.ID).Str("step", step.Name).Msg("running build step")

		res, err := p.run.Run(ctx, p.cfg.ProjectDir, p.cfg.StepTimeout, step.Argv)
		if aerr := p.appendOutput(t, res); aerr != nil {
			if err == nil {
				// A task must never complete with a truncated log
				// file, so a broken mirror fails the build.
				return "", fmt.Errorf("append task log: %w", aerr)
			}
			p.log.Error().Str("task", t.ID).Err(aerr).Msg("task log mirror failed")
		}
		if err != nil {
			return "", p.failStep(t, step.Name, err)
		}
	}

	name, err := LatestArtifact(p.cfg.ArtifactsDir, p.cfg.ArtifactExt)
	if err != nil {
		_ = t.AppendLog(fmt.Sprintf("\n[error] %s\n", err))
		return "", err
	}
	if err := t.AppendLog(fmt.Sprintf("\n[ok] built %s\n", name)); err != nil {
		return "", fmt.Errorf("append task log: %w", err)
	}
	return name, nil
}

// failStep classifies a step failure, records the marker in the task
// log, and returns the typed error the worker reports.
func (p *Pipeline) failStep(t *domain.Task, step string, err error) error {
	var stepErr error
	var ee *runner.ExitError
	switch {
	case errors.Is(err, runner.ErrTimeout):
		stepErr = &StepTimeoutError{Step: step, Timeout: p.cfg.StepTimeout}
	case errors.As(err, &ee):
		stepErr = &StepError{Step: step, Code: ee.Code}
	default:
		stepErr = fmt.Errorf("%s: %w", step, err)
	}
	_ = t.AppendLog(fmt.Sprintf("\n[error] %s\n", stepErr))
	p.log.Error().Str("task", t.ID).Str("step", step).Err(stepErr).Msg("build step failed")
	return stepErr
}

// appendOutput mirrors a step's stdout as-is and its stderr line by
// line under an error-stream marker, preserving order within the step.
func (p *Pipeline) appendOutput(t *domain.Task, res runner.Result) error {
	if res.Stdout != "" {
		chunk := res.Stdout
		if !strings.HasSuffix(chunk, "\n") {
			chunk += "\n"
		}
		if err := t.AppendLog(chunk); err != nil {
			return err
		}
	}
	if res.Stderr != "" {
		var b strings.Builder
		for _, line := range strings.Split(res.Stderr, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			b.WriteString("[stderr] ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		if b.Len() > 0 {
			if err := t.AppendLog(b.String()); err != nil {
				return err
			}
		}
	}
	return nil
}
