// Package metrics holds the Prometheus instrumentation shared by brencher
// components. A Metrics value registers its collectors on the registerer it
// is given; a nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "brencher"

	outcomeLabel    = "outcome"
	subscriberLabel = "subscriber"
)

// Merge outcomes.
const (
	MergeCreated  = "created"
	MergeReused   = "reused"
	MergeConflict = "conflict"
	MergeFailed   = "failed"
)

// Build outcomes.
const (
	BuildBuilt   = "built"
	BuildSkipped = "skipped"
	BuildFailed  = "failed"
)

// Generic outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics groups every collector brencher exports.
type Metrics struct {
	merges        *prometheus.CounterVec
	pushes        prometheus.Counter
	mergeDuration prometheus.Histogram

	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram

	refreshes *prometheus.CounterVec
	saves     *prometheus.CounterVec

	jobs       *prometheus.CounterVec
	queueDepth prometheus.Gauge

	dropped *prometheus.CounterVec
}

// DefaultBuckets returns histogram buckets sized for git and build work.
func DefaultBuckets() []float64 {
	return []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		merges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merges_total",
			Help:      "The total number of merge attempts by outcome",
		}, []string{outcomeLabel}),
		pushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pushes_total",
			Help:      "The total number of integration branch pushes",
		}),
		mergeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Merge duration seconds",
			Buckets:   DefaultBuckets(),
		}),
		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "The total number of build attempts by outcome",
		}, []string{outcomeLabel}),
		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Build duration seconds",
			Buckets:   DefaultBuckets(),
		}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_refreshes_total",
			Help:      "The total number of mirror refreshes by outcome",
		}, []string{outcomeLabel}),
		saves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_saves_total",
			Help:      "The total number of state snapshot saves by outcome",
		}, []string{outcomeLabel}),
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orchestration_jobs_total",
			Help:      "The total number of orchestration jobs by outcome",
		}, []string{outcomeLabel}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "orchestration_queue_depth",
			Help:      "Jobs waiting or running across all release lanes",
		}),
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Values discarded by bounded subscribers",
		}, []string{subscriberLabel}),
	}
}

// ObserveMerge records a finished merge attempt.
func (m *Metrics) ObserveMerge(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.merges.WithLabelValues(outcome).Inc()
	m.mergeDuration.Observe(duration.Seconds())
}

// AddPush records an integration branch push.
func (m *Metrics) AddPush() {
	if m == nil {
		return
	}
	m.pushes.Inc()
}

// Pushes returns the push counter.
func (m *Metrics) Pushes() prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.pushes
}

// Merges returns the merge counter for outcome.
func (m *Metrics) Merges(outcome string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.merges.WithLabelValues(outcome)
}

// Builds returns the build counter for outcome.
func (m *Metrics) Builds(outcome string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.builds.WithLabelValues(outcome)
}

// ObserveBuild records a finished build attempt.
func (m *Metrics) ObserveBuild(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(duration.Seconds())
}

// AddRefresh records a mirror refresh.
func (m *Metrics) AddRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// AddSave records a snapshot save.
func (m *Metrics) AddSave(outcome string) {
	if m == nil {
		return
	}
	m.saves.WithLabelValues(outcome).Inc()
}

// AddJob records a finished orchestration job.
func (m *Metrics) AddJob(outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(outcome).Inc()
}

// Jobs returns the orchestration job counter for outcome.
func (m *Metrics) Jobs(outcome string) prometheus.Counter {
	if m == nil {
		return nil
	}
	return m.jobs.WithLabelValues(outcome)
}

// AddQueued adjusts the orchestration queue depth by delta.
func (m *Metrics) AddQueued(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}

// AddDropped records a value discarded by subscriber.
func (m *Metrics) AddDropped(subscriber string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(subscriber).Inc()
}
