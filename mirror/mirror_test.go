package mirror_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/internal/gittest"
	"github.com/input-output-hk/brencher/mirror"
)

func newMirror(t *testing.T) *mirror.Mirror {
	t.Helper()
	m := mirror.New(mirror.WithWorkDir(filepath.Join(t.TempDir(), "mirror")))
	t.Cleanup(m.Close)
	return m
}

func TestConfigureRequiresURL(t *testing.T) {
	m := newMirror(t)
	err := m.Configure(context.Background(), mirror.Remote{URL: "  "})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))
}

func TestConfigureSurfacesCloneFailure(t *testing.T) {
	gittest.RequireGit(t)

	m := newMirror(t)
	err := m.Configure(context.Background(), mirror.Remote{URL: filepath.Join(t.TempDir(), "missing.git")})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))

	_, err = m.Resolve(context.Background(), "main")
	assert.True(t, errors.HasCode(err, errors.CodeBranchNotFound))

	err = m.Refresh(context.Background())
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))
}

func TestResolveAndListBranches(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	mainHash := remote.Commit("main", "", "README.md", "hello\n", "initial")
	featHash := remote.Commit("feat/a", "main", "a.txt", "a\n", "add a")
	remote.Commit("auto/0123", "main", "x.txt", "x\n", "integration")

	m := newMirror(t)
	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: remote.URL()}))

	assert.Equal(t, remote.URL(), m.RemoteURL())
	assert.Nil(t, m.Auth())
	assert.Equal(t, []string{"feat/a", "main"}, m.ListBranches())

	commit, err := m.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, mainHash, commit)

	commit, err = m.Resolve(ctx, "feat/a")
	require.NoError(t, err)
	assert.Equal(t, featHash, commit)

	_, err = m.Resolve(ctx, "nope")
	assert.True(t, errors.HasCode(err, errors.CodeBranchNotFound))
}

func TestRefreshPicksUpChanges(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")
	remote.Commit("gone", "main", "g.txt", "g\n", "gone")

	m := newMirror(t)
	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: remote.URL()}))
	require.Equal(t, []string{"gone", "main"}, m.ListBranches())

	remote.DeleteBranch("gone")
	next := remote.Commit("main", "", "README.md", "changed\n", "second")

	require.NoError(t, m.Refresh(ctx))
	assert.Equal(t, []string{"main"}, m.ListBranches())

	commit, err := m.Resolve(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, next, commit)

	// Nothing changed since the last fetch.
	require.NoError(t, m.Refresh(ctx))
}

func TestPeriodicRefresh(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")

	m := newMirror(t)
	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: remote.URL(), RefreshInterval: 20 * time.Millisecond}))

	remote.Commit("late", "main", "late.txt", "late\n", "late")

	require.Eventually(t, func() bool {
		_, err := m.Resolve(ctx, "late")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReconfigureReplacesClone(t *testing.T) {
	ctx := context.Background()
	first := gittest.NewRemote(t)
	first.Commit("main", "", "README.md", "one\n", "initial")
	first.Commit("only-first", "main", "f.txt", "f\n", "first")

	second := gittest.NewRemote(t)
	second.Commit("main", "", "README.md", "two\n", "initial")

	m := newMirror(t)
	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: first.URL()}))
	require.Contains(t, m.ListBranches(), "only-first")

	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: second.URL()}))
	assert.Equal(t, []string{"main"}, m.ListBranches())
	assert.Equal(t, second.URL(), m.RemoteURL())
}

func TestExclusive(t *testing.T) {
	ctx := context.Background()

	m := newMirror(t)
	err := m.Exclusive(ctx, func(*git.Repo) error { return nil })
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))

	remote := gittest.NewRemote(t)
	head := remote.Commit("main", "", "README.md", "hello\n", "initial")
	require.NoError(t, m.Configure(ctx, mirror.Remote{URL: remote.URL()}))

	var seen string
	require.NoError(t, m.Exclusive(ctx, func(repo *git.Repo) error {
		var err error
		seen, err = repo.Resolve(ctx, "origin/main")
		return err
	}))
	assert.Equal(t, head, seen)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = m.Exclusive(cancelled, func(*git.Repo) error {
		t.Fatal("fn must not run with a cancelled context")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCredentialsProduceAuth(t *testing.T) {
	ctx := context.Background()
	remote := gittest.NewRemote(t)
	remote.Commit("main", "", "README.md", "hello\n", "initial")

	m := newMirror(t)
	require.NoError(t, m.Configure(ctx, mirror.Remote{
		URL:         remote.URL(),
		Credentials: mirror.Credentials{Username: "bot", Password: "secret"},
	}))
	require.NotNil(t, m.Auth())

	// Local paths never receive credentials.
	method, err := m.Auth().Method(remote.URL())
	require.NoError(t, err)
	assert.Nil(t, method)
}
