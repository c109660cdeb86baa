package store

import (
	"io"
	"log/slog"
	"time"

	"github.com/input-output-hk/brencher/broadcast"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/release"
)

// DefaultSaveInterval is how often Run saves a safety-net snapshot.
const DefaultSaveInterval = 5 * time.Minute

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithHub publishes events on hub instead of a hub owned by the store.
func WithHub(hub *broadcast.Hub[release.Event]) Option {
	return func(s *Store) {
		if hub != nil {
			s.hub = hub
			s.ownsHub = false
		}
	}
}

// WithSaveInterval sets the period of the safety-net save in Run.
func WithSaveInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
