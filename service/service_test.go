package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/release"
	"github.com/input-output-hk/brencher/service"
	"github.com/input-output-hk/brencher/store"
)

type nopBackend struct{}

func (nopBackend) Load(context.Context) (store.Snapshot, error) { return store.Snapshot{}, nil }
func (nopBackend) Save(context.Context, store.Snapshot) error   { return nil }

type staticBranches []string

func (b staticBranches) ListBranches() []string { return b }

// recorder collects events delivered to a subscription.
type recorder struct {
	mu     sync.Mutex
	events []release.Event
}

func (r *recorder) add(ev release.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []release.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]release.Event(nil), r.events...)
}

func newService(t *testing.T) (*service.Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), nopBackend{})
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return service.New(st, staticBranches{"main", "feat/a"}), st
}

func TestCreateRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	tests := []struct {
		name     string
		req      service.CreateReleaseRequest
		wantCode errors.ErrorCode
		want     release.Release
	}{
		{
			name: "defaults to paused",
			req:  service.CreateReleaseRequest{Name: "r1", Environment: "dev", Branches: []string{"main", "feat/a", "main"}},
			want: release.Release{Name: "r1", State: release.StatePaused, Environment: "dev", Branches: []string{"main", "feat/a"}},
		},
		{
			name: "active",
			req:  service.CreateReleaseRequest{Name: "r2", State: release.StateActive, Branches: []string{"main"}},
			want: release.Release{Name: "r2", State: release.StateActive, Branches: []string{"main"}},
		},
		{
			name: "legacy pause",
			req:  service.CreateReleaseRequest{Name: "r4", State: "PAUSE", Branches: []string{"main"}},
			want: release.Release{Name: "r4", State: release.StatePaused, Branches: []string{"main"}},
		},
		{
			name:     "unknown state",
			req:      service.CreateReleaseRequest{Name: "r5", State: "RUNNING", Branches: []string{"main"}},
			wantCode: errors.CodeInvalidInput,
		},
		{
			name:     "no branches",
			req:      service.CreateReleaseRequest{Name: "r3"},
			wantCode: errors.CodeInvalidInput,
		},
		{
			name:     "empty branch name",
			req:      service.CreateReleaseRequest{Name: "r3", Branches: []string{"main", ""}},
			wantCode: errors.CodeInvalidInput,
		},
		{
			name:     "empty name",
			req:      service.CreateReleaseRequest{Branches: []string{"main"}},
			wantCode: errors.CodeInvalidInput,
		},
		{
			name:     "duplicate",
			req:      service.CreateReleaseRequest{Name: "r1", Branches: []string{"main"}},
			wantCode: errors.CodeAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel, err := svc.CreateRelease(ctx, tt.req)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name, rel.Name)
			assert.Equal(t, tt.want.State, rel.State)
			assert.Equal(t, tt.want.Environment, rel.Environment)
			assert.Equal(t, tt.want.Branches, rel.Branches)
			assert.True(t, rel.MergedBranch.IsPending())
		})
	}

	assert.Len(t, svc.ListReleases(), 3)
}

func TestUpdateRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.CreateRelease(ctx, service.CreateReleaseRequest{Name: "r1", Branches: []string{"main"}})
	require.NoError(t, err)

	rel, err := svc.UpdateReleaseBranches(ctx, "r1", []string{"main", "feat/a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "feat/a"}, rel.Branches)

	rel, err = svc.UpdateReleaseState(ctx, "r1", "PAUSE")
	require.NoError(t, err)
	assert.Equal(t, release.StatePaused, rel.State)

	rel, err = svc.UpdateReleaseState(ctx, "r1", release.StateActive)
	require.NoError(t, err)
	assert.Equal(t, release.StateActive, rel.State)

	rel, err = svc.UpdateReleaseEnvironment(ctx, "r1", "staging")
	require.NoError(t, err)
	assert.Equal(t, "staging", rel.Environment)

	got, err := svc.GetRelease("r1")
	require.NoError(t, err)
	assert.Equal(t, rel, got)

	_, err = svc.UpdateReleaseState(ctx, "r1", "RUNNING")
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	_, err = svc.UpdateReleaseBranches(ctx, "r1", nil)
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	_, err = svc.UpdateReleaseBranches(ctx, "missing", []string{"main"})
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = svc.UpdateReleaseState(ctx, "missing", release.StateActive)
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = svc.UpdateReleaseEnvironment(ctx, "missing", "dev")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	_, err = svc.GetRelease("missing")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))
}

func TestUpdatesPublishTriggeringEvents(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	rec := &recorder{}
	cancel := svc.SubscribeToReleaseUpdates(ctx, rec.add)
	defer cancel()

	_, err := svc.CreateRelease(ctx, service.CreateReleaseRequest{Name: "r1", Branches: []string{"main"}})
	require.NoError(t, err)
	_, err = svc.UpdateReleaseState(ctx, "r1", release.StateActive)
	require.NoError(t, err)

	// Unchanged values do not publish.
	_, err = svc.UpdateReleaseState(ctx, "r1", release.StateActive)
	require.NoError(t, err)
	_, err = svc.UpdateReleaseBranches(ctx, "r1", []string{"main"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRelease(ctx, "r1"))

	require.Eventually(t, func() bool { return len(rec.all()) == 3 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, release.EventCreated, events[0].Kind)
	assert.True(t, events[0].Trigger)
	assert.Equal(t, release.EventUpdated, events[1].Kind)
	assert.True(t, events[1].Trigger)
	assert.Equal(t, release.StateActive, events[1].Release.State)
	assert.Equal(t, release.EventDeleted, events[2].Kind)
	assert.Equal(t, "r1", events[2].Release.Name)
}

func TestSubscriptionCancel(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t)

	rec := &recorder{}
	cancel := svc.SubscribeToReleaseUpdates(ctx, rec.add)
	require.Equal(t, 1, st.Events().Len())

	cancel()
	require.Eventually(t, func() bool { return st.Events().Len() == 0 }, 2*time.Second, time.Millisecond)

	_, err := svc.CreateRelease(ctx, service.CreateReleaseRequest{Name: "r1", Branches: []string{"main"}})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.all())
}

func TestDeleteRelease(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.CreateRelease(ctx, service.CreateReleaseRequest{Name: "r1", Branches: []string{"main"}})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRelease(ctx, "r1"))
	assert.Empty(t, svc.ListReleases())
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(svc.DeleteRelease(ctx, "r1")))
}

func TestEnvironments(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	env, err := svc.CreateEnvironment(ctx, "dev", `{"replicas":1}`)
	require.NoError(t, err)
	assert.Equal(t, "dev", env.Name)
	assert.JSONEq(t, `{"replicas":1}`, env.Configuration)

	_, err = svc.CreateEnvironment(ctx, "dev", "")
	assert.Equal(t, errors.CodeAlreadyExists, errors.CodeOf(err))

	_, err = svc.CreateEnvironment(ctx, "bad", "{")
	assert.Equal(t, errors.CodeInvalidInput, errors.CodeOf(err))

	env, err = svc.UpdateEnvironment(ctx, "dev", `{"replicas":3}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"replicas":3}`, env.Configuration)

	_, err = svc.UpdateEnvironment(ctx, "prod", "{}")
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(err))

	require.Len(t, svc.ListEnvironments(), 1)
	require.NoError(t, svc.DeleteEnvironment(ctx, "dev"))
	assert.Equal(t, errors.CodeNotFound, errors.CodeOf(svc.DeleteEnvironment(ctx, "dev")))
	assert.Empty(t, svc.ListEnvironments())
}

func TestListBranches(t *testing.T) {
	svc, _ := newService(t)
	assert.Equal(t, []string{"main", "feat/a"}, svc.ListBranches())

	st, err := store.Open(context.Background(), nopBackend{})
	require.NoError(t, err)
	defer st.Close()
	assert.Empty(t, service.New(st, nil).ListBranches())
}
