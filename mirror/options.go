package mirror

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/input-output-hk/brencher/executor"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/metrics"
)

// Option configures a Mirror.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	workDir   string
	runner    executor.Runner
	metrics   *metrics.Metrics
	signature git.Signature
	hosts     []string
}

// DefaultWorkDir returns $XDG_DATA_HOME/brencher/mirror.
func DefaultWorkDir() string {
	return filepath.Join(xdg.DataHome, "brencher", "mirror")
}

func defaultOptions() *options {
	return &options{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		workDir:   DefaultWorkDir(),
		runner:    executor.New(),
		signature: git.DefaultSignature,
	}
}

// WithLogger sets the logger for the mirror.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithWorkDir sets the directory holding the clone. It is wiped on every
// Configure call.
func WithWorkDir(dir string) Option {
	return func(o *options) {
		if dir != "" {
			o.workDir = dir
		}
	}
}

// WithRunner sets the runner used for git CLI merges.
func WithRunner(runner executor.Runner) Option {
	return func(o *options) {
		if runner != nil {
			o.runner = runner
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithSignature sets the author of merge commits.
func WithSignature(sig git.Signature) Option {
	return func(o *options) {
		if sig.Name != "" && sig.Email != "" {
			o.signature = sig
		}
	}
}

// WithAllowedHosts restricts which HTTP(S) hosts receive credentials.
func WithAllowedHosts(hosts ...string) Option {
	return func(o *options) {
		o.hosts = hosts
	}
}
