// Package orchestrator reacts to release changes by merging the release's
// branches and building the result.
//
// Work is organized in lanes, one per release name. A lane runs its jobs in
// arrival order and never preempts a running job; different lanes run
// concurrently up to the configured limit.
package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/input-output-hk/brencher/broadcast"
	"github.com/input-output-hk/brencher/build"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/release"
	"github.com/input-output-hk/brencher/store"
)

// DefaultConcurrency is the number of lanes that may run at once.
const DefaultConcurrency = 4

// Merger produces the integration branch for a set of branches.
type Merger interface {
	Merge(ctx context.Context, branches []string) release.MergeOutcome
}

// Builder builds a merged branch.
type Builder interface {
	Build(ctx context.Context, merged release.MergeOutcome) release.BuildOutcome
}

// Store is the part of the release store the worker reads and writes.
type Store interface {
	GetRelease(name string) (release.Release, bool)
	UpdateRelease(
		ctx context.Context,
		name string,
		trigger store.Trigger,
		fn func(*release.Release) error,
	) (release.Release, bool, error)
	Events() *broadcast.Hub[release.Event]
}

// Worker consumes release events and runs merge and build jobs.
type Worker struct {
	store   Store
	merger  Merger
	builder Builder

	logger  *slog.Logger
	metrics *metrics.Metrics
	sem     *semaphore.Weighted

	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// lane holds the queued jobs for one release in arrival order.
type lane struct {
	queue []job
}

type job struct {
	id      string
	release string
	cause   string
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger for the worker.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithConcurrency sets how many lanes may run at once.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// NewWorker creates a Worker.
func NewWorker(s Store, merger Merger, builder Builder, opts ...Option) *Worker {
	w := &Worker{
		store:   s,
		merger:  merger,
		builder: builder,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		sem:     semaphore.NewWeighted(DefaultConcurrency),
		lanes:   make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run consumes events until ctx is done or the hub closes, then waits for
// running jobs to finish. Jobs that have not started are dropped.
func (w *Worker) Run(ctx context.Context) error {
	sub := w.store.Events().Subscribe(broadcast.Unbounded(), broadcast.WithName("orchestrator"))
	defer sub.Close()

	w.logger.Info("orchestration worker started")

	// Running jobs finish even when ctx is cancelled.
	jobCtx := context.WithoutCancel(ctx)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-sub.C():
			if !ok {
				break loop
			}
			w.handle(ctx, jobCtx, ev)
		}
	}

	w.wg.Wait()
	w.logger.Info("orchestration worker stopped")
	return nil
}

func (w *Worker) handle(runCtx, jobCtx context.Context, ev release.Event) {
	if !ev.Trigger || ev.Kind == release.EventDeleted {
		return
	}
	w.enqueue(runCtx, jobCtx, job{
		id:      uuid.NewString(),
		release: ev.Release.Name,
		cause:   ev.EventID,
	})
}

func (w *Worker) enqueue(runCtx, jobCtx context.Context, j job) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.metrics.AddQueued(1)

	if l, ok := w.lanes[j.release]; ok {
		l.queue = append(l.queue, j)
		w.logger.Debug("job queued behind running job", "release", j.release, "job", j.id, "queued", len(l.queue))
		return
	}

	l := &lane{queue: []job{j}}
	w.lanes[j.release] = l
	w.wg.Add(1)
	go w.drain(runCtx, jobCtx, j.release, l)
}

// drain runs the lane's jobs until its queue is empty, then retires the lane.
func (w *Worker) drain(runCtx, jobCtx context.Context, name string, l *lane) {
	defer w.wg.Done()

	if err := w.sem.Acquire(runCtx, 1); err != nil {
		w.mu.Lock()
		w.retire(name, l)
		w.mu.Unlock()
		return
	}
	defer w.sem.Release(1)

	for {
		w.mu.Lock()
		if len(l.queue) == 0 || runCtx.Err() != nil {
			w.retire(name, l)
			w.mu.Unlock()
			return
		}
		j := l.queue[0]
		l.queue = l.queue[1:]
		w.metrics.AddQueued(-1)
		w.mu.Unlock()

		w.process(jobCtx, j)
	}
}

// retire removes the lane and drops any jobs that never started. Callers
// hold w.mu.
func (w *Worker) retire(name string, l *lane) {
	if n := len(l.queue); n > 0 {
		w.logger.Info("dropping queued jobs on shutdown", "release", name, "jobs", n)
		w.metrics.AddQueued(-n)
	}
	delete(w.lanes, name)
}

func (w *Worker) process(ctx context.Context, j job) {
	logger := w.logger.With("release", j.release, "job", j.id)

	rel, ok := w.store.GetRelease(j.release)
	if !ok {
		logger.Debug("release no longer exists, skipping")
		w.metrics.AddJob(metrics.OutcomeSkipped)
		return
	}
	if rel.State != release.StateActive {
		logger.Debug("release is not active, skipping", "state", rel.State)
		w.metrics.AddJob(metrics.OutcomeSkipped)
		return
	}

	start := time.Now()
	logger.Info("orchestration started", "branches", rel.Branches)

	merged := w.merger.Merge(ctx, rel.Branches)

	var built release.BuildOutcome
	if merged.IsSuccess() {
		built = w.builder.Build(ctx, merged)
	} else {
		logger.Warn("merge failed", "reason", merged.Reason())
		built = release.FailedBuild(build.NoMergedBranch)
	}

	_, found, err := w.store.UpdateRelease(ctx, j.release, store.NoTrigger, func(r *release.Release) error {
		r.ApplyMerge(merged)
		r.ApplyBuild(built)
		return nil
	})
	switch {
	case err != nil:
		logger.Error("failed to record results", "error", err)
	case !found:
		logger.Info("release deleted while job was running, discarding results")
	}

	outcome := metrics.OutcomeSuccess
	if !merged.IsSuccess() || !built.BuildVersion.IsSuccess() {
		outcome = metrics.OutcomeFailure
	}
	w.metrics.AddJob(outcome)

	logger.Info("orchestration finished",
		"outcome", outcome,
		"merged", merged.String(),
		"version", built.BuildVersion.String(),
		"duration", time.Since(start))
}
