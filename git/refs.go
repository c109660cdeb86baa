package git

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RemoteBranches returns the remote-tracking branches of remote as a map of
// short branch name to commit hash. The symbolic HEAD entry is skipped.
//
// Context timeout/cancellation is honored during the operation.
func (r *Repo) RemoteBranches(ctx context.Context, remote string) (map[string]string, error) {
	if remote == "" {
		remote = DefaultRemoteName
	}

	refs, err := r.repo.References()
	if err != nil {
		return nil, WrapError(err, "failed to get references")
	}
	defer refs.Close()

	prefix := "refs/remotes/" + remote + "/"
	branches := make(map[string]string)

	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := ref.Name().String()
		if !ref.Name().IsRemote() || !strings.HasPrefix(name, prefix) {
			return nil
		}
		short := strings.TrimPrefix(name, prefix)
		if short == "HEAD" || ref.Type() != plumbing.HashReference {
			return nil
		}

		branches[short] = ref.Hash().String()
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to iterate references")
	}

	return branches, nil
}

// LocalBranches returns the sorted short names of local branches.
func (r *Repo) LocalBranches(ctx context.Context) ([]string, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, WrapError(err, "failed to list branches")
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to iterate branches")
	}

	sort.Strings(names)
	return names, nil
}

// RemoteBranchHash returns the commit of remote/branch, or ErrBranchMissing.
func (r *Repo) RemoteBranchHash(ctx context.Context, remote, branch string) (string, error) {
	if remote == "" {
		remote = DefaultRemoteName
	}
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remote, branch), true)
	if err != nil {
		return "", WrapErrorf(ErrBranchMissing, "remote branch %s/%s", remote, branch)
	}
	return ref.Hash().String(), nil
}

// Resolve resolves a revision specification (hash, branch, remote branch,
// HEAD) to a full commit hash.
func (r *Repo) Resolve(ctx context.Context, rev string) (string, error) {
	if rev == "" {
		return "", WrapError(ErrInvalidRef, "revision cannot be empty")
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", WrapErrorf(ErrResolveFailed, "failed to resolve revision %q", rev)
	}

	return hash.String(), nil
}

// Head returns the commit HEAD points at.
func (r *Repo) Head(ctx context.Context) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "failed to get HEAD reference")
	}
	return head.Hash().String(), nil
}

// CommitParents returns the parent hashes of commit in recorded order.
func (r *Repo) CommitParents(ctx context.Context, commit string) ([]string, error) {
	c, err := r.commitObject(commit)
	if err != nil {
		return nil, err
	}

	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return parents, nil
}

// IsAncestor reports whether ancestor is reachable from descendant.
// A commit is considered its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}

	a, err := r.commitObject(ancestor)
	if err != nil {
		return false, err
	}
	d, err := r.commitObject(descendant)
	if err != nil {
		return false, err
	}

	ok, err := a.IsAncestor(d)
	if err != nil {
		return false, WrapError(err, "failed to walk history")
	}
	return ok, nil
}

func (r *Repo) commitObject(commit string) (*object.Commit, error) {
	if !plumbing.IsHash(commit) {
		return nil, WrapErrorf(ErrInvalidRef, "not a commit hash: %q", commit)
	}
	c, err := r.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "commit %s", commit)
	}
	return c, nil
}
