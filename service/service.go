// Package service is the narrow interface brencher exposes to an API layer.
//
// External edits go through Service so that they are validated and marked as
// orchestration triggers. Result fields of a release are never writable here.
package service

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"slices"

	"github.com/input-output-hk/brencher/broadcast"
	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/release"
	"github.com/input-output-hk/brencher/store"
)

// BranchLister lists the branches available for releases.
type BranchLister interface {
	ListBranches() []string
}

// CreateReleaseRequest describes a new release. State defaults to PAUSED.
type CreateReleaseRequest struct {
	Name        string        `json:"name"`
	State       release.State `json:"state,omitempty"`
	Environment string        `json:"environment"`
	Branches    []string      `json:"branches"`
}

// Service implements the external operations on releases and environments.
type Service struct {
	store    *store.Store
	branches BranchLister
	logger   *slog.Logger
	buffer   int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSubscriberBuffer sets the queue length of update subscriptions.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// New creates a Service over st. branches may be nil when no mirror is
// configured.
func New(st *store.Store, branches BranchLister, opts ...Option) *Service {
	s := &Service{
		store:    st,
		branches: branches,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		buffer:   broadcast.DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errUnchanged aborts an update that would not change the release.
var errUnchanged = stderrors.New("unchanged")

// ListReleases returns every release.
func (s *Service) ListReleases() []release.Release {
	return s.store.ListReleases()
}

// GetRelease returns the named release.
func (s *Service) GetRelease(name string) (release.Release, error) {
	rel, ok := s.store.GetRelease(name)
	if !ok {
		return release.Release{}, notFound("release", name)
	}
	return rel, nil
}

// ListEnvironments returns every environment.
func (s *Service) ListEnvironments() []release.Environment {
	return s.store.ListEnvironments()
}

// ListBranches returns the source branches of the mirrored repository.
func (s *Service) ListBranches() []string {
	if s.branches == nil {
		return []string{}
	}
	return s.branches.ListBranches()
}

// CreateRelease adds a release and starts orchestrating it if it is active.
func (s *Service) CreateRelease(ctx context.Context, req CreateReleaseRequest) (release.Release, error) {
	branches, err := normalizeBranches(req.Branches)
	if err != nil {
		return release.Release{}, err
	}

	state := release.StatePaused
	if req.State != "" {
		if state, err = release.ParseState(string(req.State)); err != nil {
			return release.Release{}, errors.Wrap(err, errors.CodeInvalidInput, "invalid state")
		}
	}

	return s.store.AddRelease(ctx, release.Release{
		Name:        req.Name,
		State:       state,
		Environment: req.Environment,
		Branches:    branches,
	})
}

// UpdateReleaseBranches replaces the branches of a release.
func (s *Service) UpdateReleaseBranches(ctx context.Context, name string, branches []string) (release.Release, error) {
	normalized, err := normalizeBranches(branches)
	if err != nil {
		return release.Release{}, err
	}
	return s.update(ctx, name, func(r *release.Release) error {
		if slices.Equal(r.Branches, normalized) {
			return errUnchanged
		}
		r.Branches = normalized
		return nil
	})
}

// UpdateReleaseState changes the lifecycle state of a release.
func (s *Service) UpdateReleaseState(ctx context.Context, name string, state release.State) (release.Release, error) {
	parsed, err := release.ParseState(string(state))
	if err != nil {
		return release.Release{}, errors.Wrap(err, errors.CodeInvalidInput, "invalid state")
	}
	return s.update(ctx, name, func(r *release.Release) error {
		if r.State == parsed {
			return errUnchanged
		}
		r.State = parsed
		return nil
	})
}

// UpdateReleaseEnvironment changes the target environment of a release.
func (s *Service) UpdateReleaseEnvironment(ctx context.Context, name, environment string) (release.Release, error) {
	return s.update(ctx, name, func(r *release.Release) error {
		if r.Environment == environment {
			return errUnchanged
		}
		r.Environment = environment
		return nil
	})
}

// DeleteRelease removes a release.
func (s *Service) DeleteRelease(ctx context.Context, name string) error {
	if !s.store.DeleteRelease(ctx, name) {
		return notFound("release", name)
	}
	return nil
}

// CreateEnvironment adds an environment.
func (s *Service) CreateEnvironment(ctx context.Context, name, configuration string) (release.Environment, error) {
	return s.store.AddEnvironment(ctx, release.Environment{Name: name, Configuration: configuration})
}

// UpdateEnvironment replaces the configuration of an environment.
func (s *Service) UpdateEnvironment(ctx context.Context, name, configuration string) (release.Environment, error) {
	return s.store.UpdateEnvironment(ctx, name, configuration)
}

// DeleteEnvironment removes an environment.
func (s *Service) DeleteEnvironment(ctx context.Context, name string) error {
	if !s.store.DeleteEnvironment(ctx, name) {
		return notFound("environment", name)
	}
	return nil
}

// SubscribeToReleaseUpdates calls fn with every release event until ctx is
// done or cancel is called. fn runs on a dedicated goroutine; when it falls
// behind, the oldest undelivered events are dropped.
func (s *Service) SubscribeToReleaseUpdates(ctx context.Context, fn func(release.Event)) (cancel func()) {
	return s.store.Events().SubscribeFunc(ctx, fn, broadcast.WithBuffer(s.buffer), broadcast.WithName("release-updates"))
}

func (s *Service) update(ctx context.Context, name string, fn func(*release.Release) error) (release.Release, error) {
	rel, found, err := s.store.UpdateRelease(ctx, name, store.Triggered, fn)
	switch {
	case !found:
		return release.Release{}, notFound("release", name)
	case stderrors.Is(err, errUnchanged):
		s.logger.Debug("release unchanged, no update", "release", name)
		cur, _ := s.store.GetRelease(name)
		return cur, nil
	case err != nil:
		return release.Release{}, err
	}
	return rel, nil
}

// normalizeBranches trims duplicates while keeping the caller's order.
func normalizeBranches(branches []string) ([]string, error) {
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		if b == "" {
			return nil, errors.New(errors.CodeInvalidInput, "empty branch name")
		}
		if !slices.Contains(out, b) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no branches selected")
	}
	return out, nil
}

func notFound(kind, name string) error {
	return errors.New(errors.CodeNotFound, kind+" not found").WithContext(kind, name)
}
