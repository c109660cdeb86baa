package git

import (
	"context"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// CurrentBranch returns the name of the currently checked out branch.
// It returns an error if HEAD is in a detached state.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}

	if !head.Name().IsBranch() {
		return "", WrapError(ErrResolveFailed, "HEAD is detached")
	}

	return head.Name().Short(), nil
}

// BranchExists reports whether a local branch called name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CreateBranch creates a local branch at startRev, which may be any
// revision Resolve understands. If force is true an existing branch with
// the same name is moved instead of rejected.
//
// Context timeout/cancellation is honored during the operation.
func (r *Repo) CreateBranch(ctx context.Context, name, startRev string, force bool) error {
	if err := ctx.Err(); err != nil {
		return WrapError(err, "context cancelled")
	}

	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}
	if startRev == "" {
		return WrapError(ErrInvalidRef, "start revision cannot be empty")
	}

	branchRefName := plumbing.NewBranchReferenceName(name)
	if err := branchRefName.Validate(); err != nil {
		return WrapErrorf(ErrInvalidRef, "invalid branch name %q", name)
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(startRev))
	if err != nil {
		return WrapErrorf(ErrResolveFailed, "failed to resolve start revision %q", startRev)
	}

	if r.BranchExists(ctx, name) && !force {
		return WrapErrorf(ErrBranchExists, "branch %q", name)
	}

	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(branchRefName, *hash)); err != nil {
		return WrapError(err, "failed to create branch reference")
	}

	return nil
}

// CheckoutBranch switches the worktree to an existing local branch,
// discarding any uncommitted changes.
func (r *Repo) CheckoutBranch(ctx context.Context, name string) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}
	if !r.BranchExists(ctx, name) {
		return WrapErrorf(ErrBranchMissing, "branch %q", name)
	}

	err := r.worktree.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	})
	if err != nil {
		return WrapErrorf(err, "failed to checkout branch %q", name)
	}
	return nil
}

// CheckoutDetached points HEAD directly at commit, discarding any
// uncommitted changes. Used to release a branch before deleting it.
func (r *Repo) CheckoutDetached(ctx context.Context, commit string) error {
	if !plumbing.IsHash(commit) {
		return WrapErrorf(ErrInvalidRef, "not a commit hash: %q", commit)
	}

	err := r.worktree.Checkout(&gogit.CheckoutOptions{
		Hash:  plumbing.NewHash(commit),
		Force: true,
	})
	if err != nil {
		return WrapErrorf(err, "failed to checkout %s", commit)
	}
	return nil
}

// DeleteBranch deletes the specified local branch.
// It prevents deletion of the currently checked out branch.
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	if name == "" {
		return WrapError(ErrInvalidRef, "branch name cannot be empty")
	}

	if !r.BranchExists(ctx, name) {
		return WrapErrorf(ErrBranchMissing, "branch %q", name)
	}

	currentBranch, err := r.CurrentBranch(ctx)
	if err == nil && currentBranch == name {
		return WrapError(ErrBranchExists, "cannot delete the currently checked out branch")
	}

	if err := r.repo.Storer.RemoveReference(plumbing.NewBranchReferenceName(name)); err != nil {
		return WrapError(err, "failed to delete branch")
	}

	return nil
}
