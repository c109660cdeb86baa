package git_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/brencher/executor"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/internal/gittest"
)

func cloneRemote(t *testing.T, remote *gittest.Remote) *git.Repo {
	t.Helper()

	repo, err := git.Clone(context.Background(), remote.URL(), &git.Options{
		Path: filepath.Join(t.TempDir(), "clone"),
	})
	require.NoError(t, err)
	return repo
}

func TestCloneAndRemoteBranches(t *testing.T) {
	remote := gittest.NewRemote(t)
	mainHash := remote.Commit("main", "", "README.md", "hello\n", "initial")
	featHash := remote.Commit("feature", "main", "feature.txt", "feature\n", "add feature")

	repo := cloneRemote(t, remote)

	branches, err := repo.RemoteBranches(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": mainHash, "feature": featHash}, branches)

	url, err := repo.RemoteURL("")
	require.NoError(t, err)
	assert.Equal(t, remote.URL(), url)
}

func TestCloneValidation(t *testing.T) {
	_, err := git.Clone(context.Background(), "", &git.Options{Path: t.TempDir()})
	assert.ErrorIs(t, err, git.ErrInvalidRef)

	_, err = git.Clone(context.Background(), "/tmp/whatever", &git.Options{})
	assert.ErrorIs(t, err, git.ErrInvalidRef)
}

func TestFetchPrune(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")
	remote.Commit("stale", "main", "stale.txt", "stale\n", "stale")

	repo := cloneRemote(t, remote)

	// A pruning fetch may report either outcome when nothing changed.
	if err := repo.Fetch(ctx, "", true); err != nil {
		assert.ErrorIs(t, err, git.ErrAlreadyUpToDate)
	}

	remote.DeleteBranch("stale")
	fresh := remote.Commit("fresh", "main", "fresh.txt", "fresh\n", "fresh")

	require.NoError(t, repo.Fetch(ctx, "", true))

	branches, err := repo.RemoteBranches(ctx, "origin")
	require.NoError(t, err)
	assert.NotContains(t, branches, "stale")
	assert.Equal(t, fresh, branches["fresh"])
}

func TestResolveAndAncestry(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	base := remote.Commit("main", "", "README.md", "hello\n", "initial")
	child := remote.Commit("main", "", "README.md", "hello again\n", "second")

	repo := cloneRemote(t, remote)

	resolved, err := repo.Resolve(ctx, "origin/main")
	require.NoError(t, err)
	assert.Equal(t, child, resolved)

	_, err = repo.Resolve(ctx, "origin/nope")
	assert.ErrorIs(t, err, git.ErrResolveFailed)

	ok, err := repo.IsAncestor(ctx, base, child)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsAncestor(ctx, child, base)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.IsAncestor(ctx, child, child)
	require.NoError(t, err)
	assert.True(t, ok)

	parents, err := repo.CommitParents(ctx, child)
	require.NoError(t, err)
	assert.Equal(t, []string{base}, parents)
}

func TestBranchLifecycle(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	head := remote.Commit("main", "", "README.md", "hello\n", "initial")

	repo := cloneRemote(t, remote)

	require.NoError(t, repo.CreateBranch(ctx, "work", "origin/main", false))
	assert.True(t, repo.BranchExists(ctx, "work"))

	err := repo.CreateBranch(ctx, "work", "origin/main", false)
	assert.ErrorIs(t, err, git.ErrBranchExists)
	require.NoError(t, repo.CreateBranch(ctx, "work", "origin/main", true))

	require.NoError(t, repo.CheckoutBranch(ctx, "work"))
	current, err := repo.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "work", current)

	err = repo.DeleteBranch(ctx, "work")
	assert.ErrorIs(t, err, git.ErrBranchExists)

	require.NoError(t, repo.CheckoutDetached(ctx, head))
	require.NoError(t, repo.DeleteBranch(ctx, "work"))
	assert.False(t, repo.BranchExists(ctx, "work"))

	err = repo.DeleteBranch(ctx, "work")
	assert.ErrorIs(t, err, git.ErrBranchMissing)

	err = repo.CheckoutBranch(ctx, "work")
	assert.ErrorIs(t, err, git.ErrBranchMissing)
}

func TestMergeAndPush(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")
	a := remote.Commit("a", "main", "a.txt", "a\n", "add a")
	b := remote.Commit("b", "main", "b.txt", "b\n", "add b")

	repo := cloneRemote(t, remote)

	require.NoError(t, repo.CreateBranch(ctx, "integration", a, false))
	require.NoError(t, repo.CheckoutBranch(ctx, "integration"))
	require.NoError(t, repo.Merge(ctx, b, "merge b"))

	head, err := repo.Head(ctx)
	require.NoError(t, err)

	parents, err := repo.CommitParents(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, parents)

	require.NoError(t, repo.PushBranch(ctx, "", "integration", "auto/test", true))
	assert.Equal(t, head, remote.BranchHash("auto/test"))
	assert.Equal(t, "a\n", remote.FileAt(head, "a.txt"))
	assert.Equal(t, "b\n", remote.FileAt(head, "b.txt"))

	err = repo.PushBranch(ctx, "", "integration", "auto/test", true)
	assert.ErrorIs(t, err, git.ErrAlreadyUpToDate)
}

func TestMergeConflictAborts(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")
	a := remote.Commit("a", "main", "README.md", "from a\n", "edit a")
	b := remote.Commit("b", "main", "README.md", "from b\n", "edit b")

	repo := cloneRemote(t, remote)

	require.NoError(t, repo.CreateBranch(ctx, "integration", a, false))
	require.NoError(t, repo.CheckoutBranch(ctx, "integration"))

	err := repo.Merge(ctx, b, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, git.ErrMergeConflict))
	assert.Contains(t, err.Error(), "README.md")

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, head)
	assert.False(t, repo.MergeInProgress())
}

// localizedRunner hides git's English conflict messages.
type localizedRunner struct {
	executor.Runner
}

func (r localizedRunner) Run(ctx context.Context, program string, args []string, opts ...executor.Option) (*executor.Result, error) {
	result, err := r.Runner.Run(ctx, program, args, opts...)
	if result != nil {
		translate := strings.NewReplacer("CONFLICT", "KONFLIKT", "Automatic merge failed", "Automatischer Merge fehlgeschlagen")
		result.Stdout = translate.Replace(result.Stdout)
		result.Stderr = translate.Replace(result.Stderr)
		result.Combined = translate.Replace(result.Combined)
	}
	return result, err
}

func TestMergeConflictDetectedFromIndex(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")
	a := remote.Commit("a", "main", "README.md", "from a\n", "edit a")
	b := remote.Commit("b", "main", "README.md", "from b\n", "edit b")
	c := remote.Commit("c", "main", "c.txt", "c\n", "add c")

	repo, err := git.Clone(ctx, remote.URL(), &git.Options{
		Path:   filepath.Join(t.TempDir(), "clone"),
		Runner: localizedRunner{Runner: executor.New()},
	})
	require.NoError(t, err)

	require.NoError(t, repo.CreateBranch(ctx, "integration", a, false))
	require.NoError(t, repo.CheckoutBranch(ctx, "integration"))

	err = repo.Merge(ctx, b, "")
	require.ErrorIs(t, err, git.ErrMergeConflict)
	assert.Contains(t, err.Error(), "README.md")
	assert.False(t, repo.MergeInProgress())

	// The clone accepts further merges.
	require.NoError(t, repo.Merge(ctx, c, "merge c"))
	head, err := repo.Head(ctx)
	require.NoError(t, err)
	parents, err := repo.CommitParents(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, []string{a, c}, parents)
}

func TestMergeFailureLeavesNoPendingMerge(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	initial := remote.Commit("main", "", "README.md", "hello\n", "initial")
	repo := cloneRemote(t, remote)

	err := repo.Merge(ctx, "0123456789abcdef0123456789abcdef01234567", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, git.ErrMergeConflict)
	assert.False(t, repo.MergeInProgress())

	head, err := repo.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, initial, head)
	require.NoError(t, repo.AbortMerge(ctx), "aborting without a pending merge is a no-op")
}

func TestBasicAuthProvider(t *testing.T) {
	provider := git.NewBasicAuthProvider("bot", "secret")

	method, err := provider.Method("https://github.com/org/repo.git")
	require.NoError(t, err)
	require.NotNil(t, method)
	basic, ok := method.(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "bot", basic.Username)
	assert.Equal(t, "secret", basic.Password)

	method, err = provider.Method("/srv/git/repo.git")
	require.NoError(t, err)
	assert.Nil(t, method)

	method, err = provider.Method("git@github.com:org/repo.git")
	require.NoError(t, err)
	assert.Nil(t, method)

	provider.WithAllowedHosts("*.example.com")
	method, err = provider.Method("https://github.com/org/repo.git")
	require.NoError(t, err)
	assert.Nil(t, method)

	method, err = provider.Method("https://git.example.com/org/repo.git")
	require.NoError(t, err)
	assert.NotNil(t, method)
}

func TestBasicAuthProviderToken(t *testing.T) {
	method, err := git.NewBasicAuthProvider("", "token").Method("https://github.com/org/repo.git")
	require.NoError(t, err)
	basic, ok := method.(*http.BasicAuth)
	require.True(t, ok)
	assert.Equal(t, "token", basic.Username)

	method, err = git.NewBasicAuthProvider("", "").Method("https://github.com/org/repo.git")
	require.NoError(t, err)
	assert.Nil(t, method)
}
