// Package gittest builds throwaway git remotes for tests. A Remote is a bare
// repository on disk plus a private working clone used to author commits.
package gittest

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// RequireGit skips the test when the git CLI is not installed. Local
// transports and merges both shell out to it.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git CLI not available")
	}
}

// Remote is a bare repository with helpers to author and inspect branches.
type Remote struct {
	t       testing.TB
	dir     string
	workDir string
	work    *gogit.Repository
	clock   time.Time
}

// NewRemote creates an empty bare remote whose default branch is main.
func NewRemote(t testing.TB) *Remote {
	t.Helper()
	RequireGit(t)

	root := t.TempDir()
	dir := filepath.Join(root, "remote.git")
	workDir := filepath.Join(root, "author")

	bare, err := gogit.PlainInit(dir, true)
	require.NoError(t, err)
	require.NoError(t, bare.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main")),
	))

	work, err := gogit.PlainInit(workDir, false)
	require.NoError(t, err)
	require.NoError(t, work.Storer.SetReference(
		plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main")),
	))
	_, err = work.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{dir}})
	require.NoError(t, err)

	return &Remote{
		t:       t,
		dir:     dir,
		workDir: workDir,
		work:    work,
		clock:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// URL returns the remote location usable as a clone URL.
func (r *Remote) URL() string {
	return r.dir
}

// Commit writes content to file on branch, commits and pushes it, and
// returns the new commit hash. A branch that does not exist yet starts at
// from, which may be empty only for the very first commit.
func (r *Remote) Commit(branch, from, file, content, msg string) string {
	r.t.Helper()

	wt, err := r.work.Worktree()
	require.NoError(r.t, err)

	ref := plumbing.NewBranchReferenceName(branch)
	if _, err := r.work.Reference(ref, true); err != nil {
		if from != "" {
			start, err := r.work.ResolveRevision(plumbing.Revision(from))
			require.NoError(r.t, err)
			require.NoError(r.t, r.work.Storer.SetReference(plumbing.NewHashReference(ref, *start)))
			require.NoError(r.t, wt.Checkout(&gogit.CheckoutOptions{Branch: ref, Force: true}))
		} else {
			require.NoError(r.t, r.work.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, ref)))
		}
	} else {
		require.NoError(r.t, wt.Checkout(&gogit.CheckoutOptions{Branch: ref, Force: true}))
	}

	path := filepath.Join(r.workDir, file)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
	_, err = wt.Add(file)
	require.NoError(r.t, err)

	r.clock = r.clock.Add(time.Minute)
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test Author", Email: "author@example.com", When: r.clock},
	})
	require.NoError(r.t, err)

	r.push(config.RefSpec("+" + ref.String() + ":" + ref.String()))
	return hash.String()
}

// DeleteBranch removes branch from the remote.
func (r *Remote) DeleteBranch(branch string) {
	r.t.Helper()
	r.push(config.RefSpec(":" + plumbing.NewBranchReferenceName(branch).String()))
}

// BranchHash returns the commit branch points at on the remote, or "" when
// the branch does not exist.
func (r *Remote) BranchHash(branch string) string {
	r.t.Helper()

	ref, err := r.bare().Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}

// Branches returns the sorted branch names present on the remote.
func (r *Remote) Branches() []string {
	r.t.Helper()

	iter, err := r.bare().Branches()
	require.NoError(r.t, err)
	defer iter.Close()

	var names []string
	require.NoError(r.t, iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	}))
	sort.Strings(names)
	return names
}

// Parents returns the parent hashes of commit on the remote.
func (r *Remote) Parents(commit string) []string {
	r.t.Helper()

	c, err := r.bare().CommitObject(plumbing.NewHash(commit))
	require.NoError(r.t, err)

	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return parents
}

// FileAt returns the content of file in commit on the remote.
func (r *Remote) FileAt(commit, file string) string {
	r.t.Helper()

	c, err := r.bare().CommitObject(plumbing.NewHash(commit))
	require.NoError(r.t, err)
	f, err := c.File(file)
	require.NoError(r.t, err)
	content, err := f.Contents()
	require.NoError(r.t, err)
	return content
}

func (r *Remote) bare() *gogit.Repository {
	r.t.Helper()

	repo, err := gogit.PlainOpen(r.dir)
	require.NoError(r.t, err)
	return repo
}

func (r *Remote) push(spec config.RefSpec) {
	r.t.Helper()

	err := r.work.Push(&gogit.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{spec},
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		require.NoError(r.t, err)
	}
}
