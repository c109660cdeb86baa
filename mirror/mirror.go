// Package mirror owns the single local clone of the configured remote. It
// caches the remote's branch to commit map for concurrent readers and
// serializes every operation that touches the working directory.
package mirror

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/metrics"
)

// IntegrationPrefix marks branches produced by brencher itself.
const IntegrationPrefix = "auto/"

// Credentials authenticate against HTTP(S) remotes.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether no credentials were supplied.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Remote describes the repository to mirror.
type Remote struct {
	URL         string
	Credentials Credentials

	// RefreshInterval is the period of the background fetch loop.
	// Zero disables the loop.
	RefreshInterval time.Duration
}

// Mirror is a local clone of one remote.
//
// All methods are safe for concurrent use.
type Mirror struct {
	logger  *slog.Logger
	opts    *options
	metrics *metrics.Metrics

	// op serializes everything that touches the working directory.
	op sync.Mutex

	// mu guards the fields below.
	mu       sync.RWMutex
	repo     *git.Repo
	remote   Remote
	auth     git.AuthProvider
	branches map[string]string

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates an unconfigured Mirror.
func New(opts ...Option) *Mirror {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	return &Mirror{
		logger:   o.logger,
		opts:     o,
		metrics:  o.metrics,
		branches: map[string]string{},
	}
}

// Configure replaces any previous clone with a fresh clone of remote,
// populates the branch cache and restarts the refresh loop. A clone failure
// is returned and leaves the mirror unconfigured.
func (m *Mirror) Configure(ctx context.Context, remote Remote) error {
	if strings.TrimSpace(remote.URL) == "" {
		return errors.New(errors.CodeInvalidConfig, "repository URL is required")
	}

	m.stopLoop()

	var auth git.AuthProvider
	if !remote.Credentials.Empty() {
		auth = git.NewBasicAuthProvider(remote.Credentials.Username, remote.Credentials.Password).
			WithAllowedHosts(m.opts.hosts...)
	}

	m.op.Lock()
	err := m.reclone(ctx, remote, auth)
	m.op.Unlock()
	if err != nil {
		return err
	}

	if remote.RefreshInterval > 0 {
		m.startLoop(ctx, remote.RefreshInterval)
	}
	return nil
}

func (m *Mirror) reclone(ctx context.Context, remote Remote, auth git.AuthProvider) error {
	m.mu.Lock()
	m.repo = nil
	m.branches = map[string]string{}
	m.mu.Unlock()

	if err := os.RemoveAll(m.opts.workDir); err != nil {
		return errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to clear mirror directory",
			map[string]interface{}{"dir": m.opts.workDir})
	}

	m.logger.Info("cloning repository", "url", remote.URL, "dir", m.opts.workDir)

	repo, err := git.Clone(ctx, remote.URL, &git.Options{
		Path:      m.opts.workDir,
		Auth:      auth,
		Runner:    m.opts.runner,
		Signature: m.opts.signature,
	})
	if err != nil {
		return errors.WrapWithContext(err, errors.CodeInvalidConfig, "failed to clone repository",
			map[string]interface{}{"url": remote.URL})
	}

	branches, err := repo.RemoteBranches(ctx, git.DefaultRemoteName)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to read branches")
	}

	m.mu.Lock()
	m.repo = repo
	m.remote = remote
	m.auth = auth
	m.branches = branches
	m.mu.Unlock()

	m.logger.Info("repository cloned", "url", remote.URL, "branches", len(branches))
	return nil
}

// Refresh fetches the remote (pruning deleted branches) and rebuilds the
// branch cache.
func (m *Mirror) Refresh(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	repo := m.current()
	if repo == nil {
		return errors.New(errors.CodeInvalidConfig, "mirror is not configured")
	}

	err := repo.Fetch(ctx, git.DefaultRemoteName, true)
	if err != nil && !errors.Is(err, git.ErrAlreadyUpToDate) {
		m.metrics.AddRefresh(metrics.OutcomeFailure)
		return errors.Wrap(err, errors.CodeNetwork, "failed to fetch remote")
	}

	branches, err := repo.RemoteBranches(ctx, git.DefaultRemoteName)
	if err != nil {
		m.metrics.AddRefresh(metrics.OutcomeFailure)
		return errors.Wrap(err, errors.CodeInternal, "failed to read branches")
	}

	m.mu.Lock()
	m.branches = branches
	m.mu.Unlock()

	m.metrics.AddRefresh(metrics.OutcomeSuccess)
	m.logger.Debug("mirror refreshed", "branches", len(branches))
	return nil
}

// Resolve returns the cached commit of branch.
func (m *Mirror) Resolve(ctx context.Context, branch string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	commit, ok := m.branches[branch]
	if !ok {
		return "", errors.New(errors.CodeBranchNotFound, "branch not found").WithContext("branch", branch)
	}
	return commit, nil
}

// ListBranches returns the sorted names of the remote's branches, excluding
// integration branches.
func (m *Mirror) ListBranches() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.branches))
	for name := range m.branches {
		if strings.HasPrefix(name, IntegrationPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exclusive runs fn while holding the working directory lock. Every
// operation that mutates the clone must go through here.
func (m *Mirror) Exclusive(ctx context.Context, fn func(repo *git.Repo) error) error {
	m.op.Lock()
	defer m.op.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	repo := m.current()
	if repo == nil {
		return errors.New(errors.CodeInvalidConfig, "mirror is not configured")
	}
	return fn(repo)
}

// RemoteURL returns the configured remote URL.
func (m *Mirror) RemoteURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remote.URL
}

// Auth returns the auth provider for the remote, or nil.
//
//nolint:ireturn // callers pass it straight to git.Options
func (m *Mirror) Auth() git.AuthProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auth
}

// Close stops the refresh loop.
func (m *Mirror) Close() {
	m.stopLoop()
}

func (m *Mirror) current() *git.Repo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repo
}

func (m *Mirror) startLoop(ctx context.Context, interval time.Duration) {
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	m.loopCancel = cancel
	m.loopDone = done
	m.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := m.Refresh(loopCtx); err != nil {
					m.logger.Warn("periodic refresh failed", "error", err)
				}
			}
		}
	}()
}

func (m *Mirror) stopLoop() {
	m.mu.Lock()
	cancel, done := m.loopCancel, m.loopDone
	m.loopCancel, m.loopDone = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
