// Package git provides a task-oriented wrapper around go-git for the
// operations brencher needs against a single remote: clone, fetch, branch
// resolution, ancestry checks, branch management, merging and push.
//
// Repositories live on the local disk. Merges are delegated to the git CLI
// through an executor.Runner because go-git only supports fast-forward merges.
package git

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/input-output-hk/brencher/executor"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = 1000

	// DefaultRemoteName is the default remote name used for operations.
	DefaultRemoteName = "origin"

	// DefaultGitBinary is the git CLI used for merges.
	DefaultGitBinary = "git"
)

// Signature identifies the author of merge commits.
type Signature struct {
	Name  string
	Email string
}

// DefaultSignature is used when Options.Signature is empty.
var DefaultSignature = Signature{Name: "brencher", Email: "brencher@localhost"}

// Options configures repository discovery/creation.
type Options struct {
	// Path is the REQUIRED worktree root on the local disk.
	Path string

	// StorerCacheSize sets the LRU objects cache entries.
	// Defaults to DefaultStorerCacheSize.
	StorerCacheSize int

	// Auth is an optional provider that resolves per-URL AuthMethod.
	Auth AuthProvider

	// Runner executes the git CLI. Defaults to executor.New().
	Runner executor.Runner

	// GitBinary is the git CLI program. Defaults to DefaultGitBinary.
	GitBinary string

	// Signature identifies merge commit authors. Defaults to DefaultSignature.
	Signature Signature
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.Path == "" {
		return WrapError(ErrInvalidRef, "path is required")
	}

	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidRef, "StorerCacheSize cannot be negative")
	}

	return nil
}

func (o *Options) applyDefaults() {
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
	if o.Runner == nil {
		o.Runner = executor.New()
	}
	if o.GitBinary == "" {
		o.GitBinary = DefaultGitBinary
	}
	if o.Signature.Name == "" || o.Signature.Email == "" {
		o.Signature = DefaultSignature
	}
}

// Repo represents a non-bare git repository on disk.
type Repo struct {
	repo     *gogit.Repository
	worktree *gogit.Worktree
	options  Options
}

func newStorage(path string, cacheSize int) *filesystem.Storage {
	dotGit := osfs.New(filepath.Join(path, gogit.GitDirName))
	return filesystem.NewStorage(dotGit, cache.NewObjectLRU(cache.FileSize(cacheSize)))
}

func wrap(repo *gogit.Repository, opts Options) (*Repo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}
	return &Repo{repo: repo, worktree: worktree, options: opts}, nil
}

// Clone clones remoteURL into opts.Path. The directory must not contain a
// repository already.
//
// Context timeout/cancellation is honored during the clone operation.
func Clone(ctx context.Context, remoteURL string, opts *Options) (*Repo, error) {
	if remoteURL == "" {
		return nil, WrapError(ErrInvalidRef, "remote URL cannot be empty")
	}

	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, WrapErrorf(err, "failed to create %q", opts.Path)
	}

	cloneOpts := &gogit.CloneOptions{
		URL:        remoteURL,
		RemoteName: DefaultRemoteName,
	}
	if opts.Auth != nil {
		authMethod, err := opts.Auth.Method(remoteURL)
		if err != nil {
			return nil, WrapError(ErrAuthRequired, err.Error())
		}
		cloneOpts.Auth = authMethod
	}

	storage := newStorage(opts.Path, opts.StorerCacheSize)
	repo, err := gogit.CloneContext(ctx, storage, osfs.New(opts.Path), cloneOpts)
	if err != nil {
		return nil, WrapError(err, "failed to clone repository")
	}

	return wrap(repo, *opts)
}

// Open opens an existing repository at opts.Path.
func Open(ctx context.Context, opts *Options) (*Repo, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage := newStorage(opts.Path, opts.StorerCacheSize)
	repo, err := gogit.Open(storage, osfs.New(opts.Path))
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}

	return wrap(repo, *opts)
}

// Path returns the worktree root.
func (r *Repo) Path() string {
	return r.options.Path
}

// RemoteURL returns the first configured URL of remote.
func (r *Repo) RemoteURL(remote string) (string, error) {
	if remote == "" {
		remote = DefaultRemoteName
	}
	rem, err := r.repo.Remote(remote)
	if err != nil {
		return "", WrapError(ErrResolveFailed, "remote not found")
	}
	urls := rem.Config().URLs
	if len(urls) == 0 {
		return "", WrapError(ErrResolveFailed, "remote has no URL")
	}
	return urls[0], nil
}
