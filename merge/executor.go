package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/release"
)

// Mirror is the subset of mirror.Mirror the executor needs.
type Mirror interface {
	BranchResolver
	Refresh(ctx context.Context) error
	Exclusive(ctx context.Context, fn func(repo *git.Repo) error) error
}

// Executor merges branch sets into integration branches and pushes them.
type Executor struct {
	mirror  Mirror
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an Executor working on mirror.
func NewExecutor(mirror Mirror, opts ...Option) *Executor {
	e := &Executor{
		mirror: mirror,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge integrates branches and returns the integration branch and its tip.
// Either every branch merges cleanly and the result is pushed, or nothing
// is pushed and a Failure is returned. Errors never escape as Go errors.
func (e *Executor) Merge(ctx context.Context, branches []string) release.MergeOutcome {
	start := time.Now()
	outcome, label := e.merge(ctx, branches)
	e.metrics.ObserveMerge(label, time.Since(start))
	return outcome
}

func (e *Executor) merge(ctx context.Context, branches []string) (release.MergeOutcome, string) {
	if err := e.mirror.Refresh(ctx); err != nil {
		e.logger.Error("fetch before merge failed", "error", err)
		return release.Failuref[release.MergedBranch]("failed to fetch remote: %v", err), metrics.MergeFailed
	}

	plan, err := Resolve(ctx, e.mirror, branches)
	if err != nil {
		e.logger.Warn("cannot resolve branches", "branches", branches, "error", err)
		return release.Failure[release.MergedBranch](err.Error()), metrics.MergeFailed
	}

	logger := e.logger.With("fingerprint", plan.Fingerprint, "branches", plan.Branches)

	var (
		outcome release.MergeOutcome
		label   string
	)
	err = e.mirror.Exclusive(ctx, func(repo *git.Repo) error {
		outcome, label = e.mergeLocked(ctx, repo, plan, logger)
		return nil
	})
	if err != nil {
		logger.Error("merge could not run", "error", err)
		return release.Failuref[release.MergedBranch]("merge could not run: %v", err), metrics.MergeFailed
	}
	return outcome, label
}

func (e *Executor) mergeLocked(ctx context.Context, repo *git.Repo, plan Plan, logger *slog.Logger) (release.MergeOutcome, string) {
	if tip, ok := e.existing(ctx, repo, plan, logger); ok {
		logger.Info("integration branch is current", "branch", plan.IntegrationBranch, "commit", tip)
		return release.Success(release.MergedBranch{Branch: plan.IntegrationBranch, Commit: tip}), metrics.MergeReused
	}

	// A crash may have left a staging branch behind.
	e.cleanup(ctx, repo, plan, logger)
	defer e.cleanup(ctx, repo, plan, logger)

	if err := repo.CreateBranch(ctx, plan.EphemeralBranch, plan.Commits[0], true); err != nil {
		return e.fail(logger, "failed to create staging branch", err)
	}
	if err := repo.CheckoutBranch(ctx, plan.EphemeralBranch); err != nil {
		return e.fail(logger, "failed to check out staging branch", err)
	}

	for i := 1; i < len(plan.Branches); i++ {
		branch, commit := plan.Branches[i], plan.Commits[i]
		msg := fmt.Sprintf("Merge branch '%s' into %s", branch, plan.IntegrationBranch)

		err := repo.Merge(ctx, commit, msg)
		if errors.Is(err, git.ErrMergeConflict) {
			logger.Warn("merge conflict", "branch", branch, "commit", commit)
			return release.Failuref[release.MergedBranch]("merge conflict with branch %s", branch), metrics.MergeConflict
		}
		if err != nil {
			return e.fail(logger, fmt.Sprintf("failed to merge branch %s", branch), err)
		}
		logger.Debug("merged branch", "branch", branch, "commit", commit)
	}

	tip, err := repo.Head(ctx)
	if err != nil {
		return e.fail(logger, "failed to read merge result", err)
	}

	if err := repo.CreateBranch(ctx, plan.IntegrationBranch, tip, true); err != nil {
		return e.fail(logger, "failed to update integration branch", err)
	}

	err = repo.PushBranch(ctx, git.DefaultRemoteName, plan.IntegrationBranch, plan.IntegrationBranch, true)
	switch {
	case errors.Is(err, git.ErrAlreadyUpToDate):
		logger.Info("integration branch already at merge result", "branch", plan.IntegrationBranch, "commit", tip)
	case err != nil:
		wrapped := errors.WrapWithContext(err, errors.CodePushFailed, "failed to push integration branch",
			map[string]interface{}{"branch": plan.IntegrationBranch})
		logger.Error("push failed", "branch", plan.IntegrationBranch, "error", err)
		return release.Failure[release.MergedBranch](wrapped.Error()), metrics.MergeFailed
	default:
		e.metrics.AddPush()
		logger.Info("integration branch pushed", "branch", plan.IntegrationBranch, "commit", tip)
	}

	return release.Success(release.MergedBranch{Branch: plan.IntegrationBranch, Commit: tip}), metrics.MergeCreated
}

// existing reports whether the remote integration branch was built from
// exactly the plan's commit set. Walking first parents from its tip must
// pass only merge commits whose merged parent is a planned commit and end
// on a planned commit. Planned commits that were never merged must already
// be contained in the tip; git records no merge commit for them.
func (e *Executor) existing(ctx context.Context, repo *git.Repo, plan Plan, logger *slog.Logger) (string, bool) {
	tip, err := repo.RemoteBranchHash(ctx, git.DefaultRemoteName, plan.IntegrationBranch)
	if err != nil {
		return "", false
	}

	want := plan.CommitSet()
	merged := make(map[string]struct{}, len(want))

	commit := tip
	for range len(want) {
		if _, ok := want[commit]; ok {
			merged[commit] = struct{}{}
			return tip, e.containsRest(ctx, repo, tip, want, merged)
		}

		parents, err := repo.CommitParents(ctx, commit)
		if err != nil {
			logger.Warn("cannot read integration branch history", "commit", commit, "error", err)
			return "", false
		}
		if len(parents) != 2 {
			return "", false
		}
		if _, ok := want[parents[1]]; !ok {
			return "", false
		}
		merged[parents[1]] = struct{}{}
		commit = parents[0]
	}
	return "", false
}

// containsRest reports whether every wanted commit that has no merge commit
// of its own is an ancestor of tip.
func (e *Executor) containsRest(ctx context.Context, repo *git.Repo, tip string, want, merged map[string]struct{}) bool {
	for commit := range want {
		if _, ok := merged[commit]; ok {
			continue
		}
		ok, err := repo.IsAncestor(ctx, commit, tip)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (e *Executor) cleanup(ctx context.Context, repo *git.Repo, plan Plan, logger *slog.Logger) {
	if err := repo.AbortMerge(ctx); err != nil {
		logger.Warn("failed to abort pending merge", "error", err)
	}
	if !repo.BranchExists(ctx, plan.EphemeralBranch) {
		return
	}
	if err := repo.CheckoutDetached(ctx, plan.Commits[0]); err != nil {
		logger.Warn("failed to detach before cleanup", "error", err)
	}
	if err := repo.DeleteBranch(ctx, plan.EphemeralBranch); err != nil {
		logger.Warn("failed to delete staging branch", "branch", plan.EphemeralBranch, "error", err)
	}
}

func (e *Executor) fail(logger *slog.Logger, msg string, err error) (release.MergeOutcome, string) {
	logger.Error(msg, "error", err)
	return release.Failuref[release.MergedBranch]("%s: %v", msg, err), metrics.MergeFailed
}

