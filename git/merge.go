package git

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"

	"github.com/input-output-hk/brencher/executor"
)

// Merge merges rev into the checked out branch with a merge commit, using
// the git CLI. When the merge fails for any reason the pending merge is
// aborted so the worktree is left as it was. A merge that stopped on
// unmerged paths returns ErrMergeConflict naming those paths.
//
// Context timeout/cancellation is honored during the merge.
func (r *Repo) Merge(ctx context.Context, rev, message string) error {
	if rev == "" {
		return WrapError(ErrInvalidRef, "merge revision cannot be empty")
	}

	args := []string{"merge", "--no-ff", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, rev)

	result, err := r.git(ctx, args...)
	if err == nil {
		return nil
	}
	output := result.Output()

	// The index must be read before the abort resets it.
	unmerged, _ := r.unmergedPaths(ctx)

	if abortErr := r.AbortMerge(ctx); abortErr != nil {
		if len(unmerged) > 0 {
			return WrapErrorf(ErrMergeConflict, "merging %s: conflicts in %s (abort failed: %v)",
				rev, strings.Join(unmerged, ", "), abortErr)
		}
		return WrapErrorf(err, "failed to merge %s: %s (abort failed: %v)", rev, output, abortErr)
	}

	if len(unmerged) > 0 {
		return WrapErrorf(ErrMergeConflict, "merging %s: conflicts in %s", rev, strings.Join(unmerged, ", "))
	}
	return WrapErrorf(err, "failed to merge %s: %s", rev, output)
}

// MergeInProgress reports whether a merge was started and not concluded.
func (r *Repo) MergeInProgress() bool {
	_, err := os.Stat(filepath.Join(r.options.Path, gogit.GitDirName, "MERGE_HEAD"))
	return err == nil
}

// AbortMerge aborts an in-progress merge and restores the pre-merge
// worktree. It does nothing when no merge is pending.
func (r *Repo) AbortMerge(ctx context.Context) error {
	if !r.MergeInProgress() {
		return nil
	}

	result, err := r.git(ctx, "merge", "--abort")
	if err == nil {
		return nil
	}

	// merge --abort refuses some states that reset --merge still clears.
	reset, resetErr := r.git(ctx, "reset", "--merge")
	if resetErr != nil {
		return WrapErrorf(resetErr, "failed to abort merge: %s; %s", result.Output(), reset.Output())
	}
	return nil
}

// unmergedPaths lists the paths with conflict stages in the index.
func (r *Repo) unmergedPaths(ctx context.Context) ([]string, error) {
	result, err := r.git(ctx, "ls-files", "--unmerged", "-z")
	if err != nil {
		return nil, WrapErrorf(err, "failed to list unmerged paths: %s", result.Output())
	}

	seen := map[string]struct{}{}
	for _, entry := range strings.Split(result.Stdout, "\x00") {
		// <mode> <object> <stage>\t<path>
		_, path, ok := strings.Cut(entry, "\t")
		if ok && path != "" {
			seen[path] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Repo) git(ctx context.Context, args ...string) (*executor.Result, error) {
	sig := r.options.Signature
	full := append([]string{
		"-c", "user.name=" + sig.Name,
		"-c", "user.email=" + sig.Email,
		"-c", "commit.gpgsign=false",
	}, args...)

	return r.options.Runner.Run(ctx, r.options.GitBinary, full,
		executor.WithWorkingDir(r.options.Path),
		executor.WithEnvVar("LC_ALL", "C"),
		executor.WithEnvVar("LANGUAGE", "C"),
		executor.WithEnvVar("GIT_TERMINAL_PROMPT", "0"),
		executor.WithEnvVar("GIT_MERGE_AUTOEDIT", "no"),
	)
}
