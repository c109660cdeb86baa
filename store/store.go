// Package store holds the authoritative set of releases and environments.
//
// Mutations are serialized by a single lock and produce a new immutable
// snapshot that is swapped in atomically, so readers never wait on writers.
// Every successful mutation is written through to the configured Backend and
// release mutations are announced on a broadcast hub in commit order.
package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"github.com/input-output-hk/brencher/broadcast"
	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/release"
)

// Trigger marks whether a release mutation should start orchestration.
type Trigger bool

const (
	// Triggered is used for edits coming from outside the worker.
	Triggered Trigger = true

	// NoTrigger is used for result writes by the worker.
	NoTrigger Trigger = false
)

// finalSaveTimeout bounds the save performed when Run stops.
const finalSaveTimeout = 30 * time.Second

// Store is the release state store. It is safe for concurrent use.
type Store struct {
	backend Backend
	hub     *broadcast.Hub[release.Event]
	ownsHub bool

	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu    sync.Mutex
	state atomic.Pointer[Snapshot]
}

// Open creates a Store and loads its initial state from backend. A snapshot
// that cannot be read or parsed is logged and the store starts empty.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "store backend is required")
	}

	s := &Store{
		backend:  backend,
		logger:   discardLogger(),
		interval: DefaultSaveInterval,
		ownsHub:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.hub == nil {
		s.hub = broadcast.New[release.Event](
			broadcast.WithLogger(s.logger),
			broadcast.WithDropHook(s.metrics.AddDropped),
		)
	}

	snap, err := backend.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load snapshot, starting empty", "error", err)
		snap = Snapshot{}
	}
	snap = s.sanitize(snap)
	s.state.Store(&snap)

	s.logger.Info("state loaded", "releases", len(snap.Releases), "environments", len(snap.Environments))
	return s, nil
}

// Events returns the hub release events are published on.
func (s *Store) Events() *broadcast.Hub[release.Event] {
	return s.hub
}

// Snapshot returns the current state. Callers must not modify it.
func (s *Store) Snapshot() Snapshot {
	return *s.state.Load()
}

// ListReleases returns copies of every release in creation order.
func (s *Store) ListReleases() []release.Release {
	snap := s.state.Load()
	out := make([]release.Release, len(snap.Releases))
	for i, r := range snap.Releases {
		out[i] = r.Clone()
	}
	return out
}

// GetRelease returns a copy of the named release.
func (s *Store) GetRelease(name string) (release.Release, bool) {
	snap := s.state.Load()
	i := indexRelease(snap.Releases, name)
	if i < 0 {
		return release.Release{}, false
	}
	return snap.Releases[i].Clone(), true
}

// AddRelease stores a new release and publishes a triggering created event.
func (s *Store) AddRelease(ctx context.Context, rel release.Release) (release.Release, error) {
	if err := rel.Validate(); err != nil {
		return release.Release{}, errors.Wrap(err, errors.CodeInvalidInput, "invalid release")
	}
	rel = rel.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if indexRelease(cur.Releases, rel.Name) >= 0 {
		return release.Release{}, errors.New(errors.CodeAlreadyExists, "release already exists").
			WithContext("release", rel.Name)
	}

	next := Snapshot{
		Releases:     append(slices.Clone(cur.Releases), rel),
		Environments: cur.Environments,
	}
	s.commit(ctx, &next)
	s.hub.Publish(release.NewEvent(release.EventCreated, rel, bool(Triggered)))

	s.logger.Info("release created", "release", rel.Name, "branches", rel.Branches)
	return rel.Clone(), nil
}

// UpdateRelease applies fn to a copy of the named release and stores the
// result. It reports false when the release does not exist. An error from fn
// aborts the update. The release name cannot be changed.
func (s *Store) UpdateRelease(
	ctx context.Context,
	name string,
	trigger Trigger,
	fn func(*release.Release) error,
) (release.Release, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	i := indexRelease(cur.Releases, name)
	if i < 0 {
		return release.Release{}, false, nil
	}

	rel := cur.Releases[i].Clone()
	if err := fn(&rel); err != nil {
		return release.Release{}, true, err
	}
	if rel.Name != name {
		return release.Release{}, true, errors.New(errors.CodeInvalidInput, "release name cannot be changed").
			WithContext("release", name)
	}
	if err := rel.Validate(); err != nil {
		return release.Release{}, true, errors.Wrap(err, errors.CodeInvalidInput, "invalid release")
	}

	releases := slices.Clone(cur.Releases)
	releases[i] = rel
	next := Snapshot{Releases: releases, Environments: cur.Environments}
	s.commit(ctx, &next)
	s.hub.Publish(release.NewEvent(release.EventUpdated, rel, bool(trigger)))

	s.logger.Debug("release updated", "release", name, "trigger", bool(trigger))
	return rel.Clone(), true, nil
}

// DeleteRelease removes the named release. It reports whether the release
// existed.
func (s *Store) DeleteRelease(ctx context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	i := indexRelease(cur.Releases, name)
	if i < 0 {
		return false
	}

	removed := cur.Releases[i]
	next := Snapshot{
		Releases:     slices.Delete(slices.Clone(cur.Releases), i, i+1),
		Environments: cur.Environments,
	}
	s.commit(ctx, &next)
	s.hub.Publish(release.NewEvent(release.EventDeleted, removed, false))

	s.logger.Info("release deleted", "release", name)
	return true
}

// ListEnvironments returns every environment in creation order.
func (s *Store) ListEnvironments() []release.Environment {
	return slices.Clone(s.state.Load().Environments)
}

// GetEnvironment returns the named environment.
func (s *Store) GetEnvironment(name string) (release.Environment, bool) {
	envs := s.state.Load().Environments
	i := indexEnvironment(envs, name)
	if i < 0 {
		return release.Environment{}, false
	}
	return envs[i], true
}

// AddEnvironment stores a new environment. The configuration must be valid
// JSON and is stored normalized.
func (s *Store) AddEnvironment(ctx context.Context, env release.Environment) (release.Environment, error) {
	if env.Name == "" {
		return release.Environment{}, errors.New(errors.CodeInvalidInput, "environment name is required")
	}
	normalized, err := NormalizeConfiguration(env.Configuration)
	if err != nil {
		return release.Environment{}, err
	}
	env.Configuration = normalized

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	if indexEnvironment(cur.Environments, env.Name) >= 0 {
		return release.Environment{}, errors.New(errors.CodeAlreadyExists, "environment already exists").
			WithContext("environment", env.Name)
	}

	next := Snapshot{
		Releases:     cur.Releases,
		Environments: append(slices.Clone(cur.Environments), env),
	}
	s.commit(ctx, &next)

	s.logger.Info("environment created", "environment", env.Name)
	return env, nil
}

// UpdateEnvironment replaces the configuration of the named environment.
func (s *Store) UpdateEnvironment(ctx context.Context, name, configuration string) (release.Environment, error) {
	normalized, err := NormalizeConfiguration(configuration)
	if err != nil {
		return release.Environment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	i := indexEnvironment(cur.Environments, name)
	if i < 0 {
		return release.Environment{}, errors.New(errors.CodeNotFound, "environment not found").
			WithContext("environment", name)
	}

	envs := slices.Clone(cur.Environments)
	envs[i].Configuration = normalized
	next := Snapshot{Releases: cur.Releases, Environments: envs}
	s.commit(ctx, &next)

	s.logger.Info("environment updated", "environment", name)
	return envs[i], nil
}

// DeleteEnvironment removes the named environment. It reports whether the
// environment existed.
func (s *Store) DeleteEnvironment(ctx context.Context, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.Load()
	i := indexEnvironment(cur.Environments, name)
	if i < 0 {
		return false
	}

	next := Snapshot{
		Releases:     cur.Releases,
		Environments: slices.Delete(slices.Clone(cur.Environments), i, i+1),
	}
	s.commit(ctx, &next)

	s.logger.Info("environment deleted", "environment", name)
	return true
}

// Save writes the current snapshot to the backend.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, s.state.Load())
}

// Run saves a snapshot every save interval until ctx is done, then performs
// a final save.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
			err := s.Save(saveCtx)
			cancel()
			if err != nil {
				s.logger.Error("final snapshot save failed", "error", err)
			}
			return nil
		case <-ticker.C:
			if err := s.Save(ctx); err != nil {
				s.logger.Error("periodic snapshot save failed", "error", err)
			}
		}
	}
}

// Close closes the event hub when the store owns it.
func (s *Store) Close() {
	if s.ownsHub {
		s.hub.Close()
	}
}

// NormalizeConfiguration validates configuration as JSON and returns it in
// a canonical pretty-printed form. An empty configuration becomes "{}".
func NormalizeConfiguration(configuration string) (string, error) {
	if configuration == "" {
		return "{}", nil
	}
	if !gjson.Valid(configuration) {
		return "", errors.New(errors.CodeInvalidInput, "environment configuration is not valid JSON")
	}
	return string(pretty.PrettyOptions([]byte(configuration), &pretty.Options{
		Width:    80,
		Prefix:   "",
		Indent:   "  ",
		SortKeys: true,
	})), nil
}

// commit swaps in next and writes it through. Callers hold s.mu.
func (s *Store) commit(ctx context.Context, next *Snapshot) {
	s.state.Store(next)
	if err := s.save(ctx, next); err != nil {
		s.logger.Error("snapshot save failed, keeping in-memory state", "error", err)
	}
}

func (s *Store) save(ctx context.Context, snap *Snapshot) error {
	if err := s.backend.Save(ctx, *snap); err != nil {
		s.metrics.AddSave(metrics.OutcomeFailure)
		return errors.Wrap(err, errors.CodePersistence, "saving snapshot")
	}
	s.metrics.AddSave(metrics.OutcomeSuccess)
	return nil
}

// sanitize drops entries a hand-edited or older snapshot may carry that the
// store could not otherwise hold: unnamed or duplicate entries and invalid
// environment configuration.
func (s *Store) sanitize(snap Snapshot) Snapshot {
	out := Snapshot{
		Releases:     make([]release.Release, 0, len(snap.Releases)),
		Environments: make([]release.Environment, 0, len(snap.Environments)),
	}

	for _, r := range snap.Releases {
		if err := r.Validate(); err != nil {
			s.logger.Warn("skipping invalid release in snapshot", "release", r.Name, "error", err)
			continue
		}
		if indexRelease(out.Releases, r.Name) >= 0 {
			s.logger.Warn("skipping duplicate release in snapshot", "release", r.Name)
			continue
		}
		out.Releases = append(out.Releases, r)
	}

	for _, e := range snap.Environments {
		if e.Name == "" || indexEnvironment(out.Environments, e.Name) >= 0 {
			s.logger.Warn("skipping unnamed or duplicate environment in snapshot", "environment", e.Name)
			continue
		}
		normalized, err := NormalizeConfiguration(e.Configuration)
		if err != nil {
			s.logger.Warn("skipping environment with invalid configuration", "environment", e.Name)
			continue
		}
		e.Configuration = normalized
		out.Environments = append(out.Environments, e)
	}

	return out
}

func indexRelease(releases []release.Release, name string) int {
	return slices.IndexFunc(releases, func(r release.Release) bool { return r.Name == name })
}

func indexEnvironment(envs []release.Environment, name string) int {
	return slices.IndexFunc(envs, func(e release.Environment) bool { return e.Name == name })
}
