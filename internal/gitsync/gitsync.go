// Package gitsync forces a local git checkout to the exact state of a
// named remote branch: discard local changes, fetch, verify the remote
// ref exists, then either hard-reset an existing local branch or
// create one from origin. This is a force-synchronize, never a merge.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"buildq/internal/runner"

	"github.com/rs/zerolog"
)

var ErrRemoteBranchMissing = errors.New("remote branch does not exist")

// StageError identifies which synchronization stage failed.
type StageError struct {
	Stage  string
	Detail string
	Err    error
}

func (e *StageError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s failed: %s", e.Stage, e.Detail)
	}
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type CommitInfo struct {
	ShortHash string
	Subject   string
}

// UnknownCommit is the fallback when HEAD cannot be read. Reading
// commit info is reporting only and never fails a synchronization.
var UnknownCommit = CommitInfo{ShortHash: "unknown", Subject: "unknown"}

type Config struct {
	RepoPath string
	Timeout  time.Duration
}

type Synchronizer struct {
	run *runner.Runner
	cfg Config
	log zerolog.Logger
}

func New(run *runner.Runner, cfg Config, log zerolog.Logger) *Synchronizer {
	return &Synchronizer{run: run, cfg: cfg, log: log}
}

// git runs one git command in the repo. On failure the returned string
// is a human-readable detail taken from stderr, falling back to stdout
// and then to the error itself.
func (s *Synchronizer) git(ctx context.Context, args ...string) (string, error) {
	argv := append([]string{"git"}, args...)
	res, err := s.run.Run(ctx, s.cfg.RepoPath, s.cfg.Timeout, argv)
	if err != nil {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		if detail == "" {
			detail = err.Error()
		}
		return detail, err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Sync brings the local checkout to the state of origin/<branch> and
// returns the resulting HEAD's commit info.
func (s *Synchronizer) Sync(ctx context.Context, branch string) (CommitInfo, error) {
	s.log.Info().Str("branch", branch).Msg("synchronizing branch")

	// A prior interrupted build may have left the tree dirty. Failing
	// to clean it must not block new builds, so this stage is advisory.
	if detail, err := s.git(ctx, "reset", "--hard"); err != nil {
		s.log.Warn().Str("detail", detail).Msg("reset of current tree failed, continuing")
	}

	if detail, err := s.git(ctx, "fetch", "origin"); err != nil {
		return UnknownCommit, &StageError{Stage: "fetch", Detail: detail, Err: err}
	}

	// Structured ref queries, not substring matching over branch
	// listings: "release" must not pass because "release-2" exists.
	if detail, err := s.git(ctx, "show-ref", "--verify", "--quiet", "refs/remotes/origin/"+branch); err != nil {
		var ee *runner.ExitError
		if errors.As(err, &ee) {
			return UnknownCommit, fmt.Errorf("branch %q: %w", branch, ErrRemoteBranchMissing)
		}
		return UnknownCommit, &StageError{Stage: "remote ref check", Detail: detail, Err: err}
	}

	_, err := s.git(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	localExists := err == nil

	if localExists {
		if detail, err := s.git(ctx, "checkout", branch); err != nil {
			return UnknownCommit, &StageError{Stage: "checkout", Detail: detail, Err: err}
		}
		if detail, err := s.git(ctx, "reset", "--hard", "origin/"+branch); err != nil {
			return UnknownCommit, &StageError{Stage: "reset to remote", Detail: detail, Err: err}
		}
	} else {
		if detail, err := s.git(ctx, "checkout", "-b", branch, "origin/"+branch); err != nil {
			return UnknownCommit, &StageError{Stage: "create branch", Detail: detail, Err: err}
		}
	}

	info := s.HeadInfo(ctx)
	s.log.Info().
		Str("branch", branch).
		Str("commit", info.ShortHash).
		Str("subject", info.Subject).
		Msg("branch synchronized")
	return info, nil
}

// HeadInfo reads the current HEAD's abbreviated hash and commit
// subject, falling back to UnknownCommit when either read fails.
func (s *Synchronizer) HeadInfo(ctx context.Context) CommitInfo {
	hash, err := s.git(ctx, "rev-parse", "--short=7", "HEAD")
	if err != nil || hash == "" {
		return UnknownCommit
	}
	subject, err := s.git(ctx, "log", "-1", "--pretty=%s", "HEAD")
	if err != nil || subject == "" {
		return CommitInfo{ShortHash: hash, Subject: "unknown"}
	}
	return CommitInfo{ShortHash: hash, Subject: subject}
}
