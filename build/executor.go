// Package build turns a merged integration commit into published artifacts.
//
// A build materializes an isolated clone checked out at the merged commit,
// stamps a version derived from the commit into the Gradle descriptor,
// discovers the container images the project declares and runs the
// toolchain only when at least one image:version is not yet published.
package build

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/input-output-hk/brencher/executor"
	"github.com/input-output-hk/brencher/git"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/release"
)

const (
	// VersionLength is the number of commit id characters used as version.
	VersionLength = 5

	// DefaultTask is the Gradle task that builds and publishes images.
	DefaultTask = "jib"

	// NoMergedBranch is the failure reason when there is nothing to build.
	NoMergedBranch = "no merged branch to build"
)

// Source locates the repository builds clone from.
type Source interface {
	RemoteURL() string
	Auth() git.AuthProvider
}

// Executor runs builds.
type Executor struct {
	source  Source
	runner  executor.Runner
	probers []Prober
	logger  *slog.Logger
	metrics *metrics.Metrics
	command []string
	task    string
	tempDir string
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger for the executor.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithRunner sets the runner used for the toolchain.
func WithRunner(runner executor.Runner) Option {
	return func(e *Executor) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithProbers sets the artifact probers. An image counts as published when
// any prober finds it.
func WithProbers(probers ...Prober) Option {
	return func(e *Executor) {
		e.probers = probers
	}
}

// WithCommand overrides the toolchain command. The first element is the
// program.
func WithCommand(command ...string) Option {
	return func(e *Executor) {
		e.command = command
	}
}

// WithTask sets the Gradle task used when no command override is set.
func WithTask(task string) Option {
	return func(e *Executor) {
		if task != "" {
			e.task = task
		}
	}
}

// WithTempDir sets the parent directory for build workspaces.
func WithTempDir(dir string) Option {
	return func(e *Executor) {
		e.tempDir = dir
	}
}

// NewExecutor creates an Executor cloning from source.
func NewExecutor(source Source, opts ...Option) *Executor {
	e := &Executor{
		source: source,
		runner: executor.New(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		task:   DefaultTask,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Version derives the build version from a commit id.
func Version(commit string) string {
	if len(commit) <= VersionLength {
		return commit
	}
	return commit[:VersionLength]
}

// Build builds merged. Failures are returned as values in both outcome
// fields; the workspace is removed on every path.
func (e *Executor) Build(ctx context.Context, merged release.MergeOutcome) release.BuildOutcome {
	mb, ok := merged.Value()
	if !ok {
		return release.FailedBuild(NoMergedBranch)
	}

	start := time.Now()
	outcome, label := e.build(ctx, mb)
	e.metrics.ObserveBuild(label, time.Since(start))
	return outcome
}

func (e *Executor) build(ctx context.Context, mb release.MergedBranch) (release.BuildOutcome, string) {
	version := Version(mb.Commit)
	logger := e.logger.With("branch", mb.Branch, "commit", mb.Commit, "version", version)

	dir, err := os.MkdirTemp(e.tempDir, "brencher-build-")
	if err != nil {
		return e.fail(logger, "failed to create workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove workspace", "dir", dir, "error", err)
		}
	}()

	workspace := filepath.Join(dir, "src")
	repo, err := git.Clone(ctx, e.source.RemoteURL(), &git.Options{
		Path: workspace,
		Auth: e.source.Auth(),
	})
	if err != nil {
		return e.fail(logger, "failed to clone workspace", err)
	}
	if err := repo.CheckoutDetached(ctx, mb.Commit); err != nil {
		return e.fail(logger, "failed to check out merged commit", err)
	}

	descriptor, err := InjectVersion(workspace, version)
	if err != nil {
		return e.fail(logger, "failed to inject version", err)
	}
	if descriptor == "" {
		logger.Warn("no build descriptor found for version injection")
	}

	images, err := DiscoverImages(workspace)
	if err != nil {
		return e.fail(logger, "failed to discover artifacts", err)
	}

	artifacts := make([]string, 0, len(images))
	for _, image := range images {
		artifacts = append(artifacts, ArtifactRef(image, version))
	}

	if len(artifacts) > 0 && e.allPublished(ctx, artifacts, logger) {
		logger.Info("all artifacts already published, skipping toolchain", "artifacts", artifacts)
		return success(version, artifacts), metrics.BuildSkipped
	}

	program, args := e.toolchain(workspace)
	logger.Info("running build toolchain", "program", program, "args", args)

	result, err := e.runner.Run(ctx, program, args,
		executor.WithWorkingDir(workspace),
		executor.WithCombinedOutput(),
	)
	if err != nil {
		logger.Error("build toolchain failed", "error", err)
		return release.FailedBuild("build failed: " + result.Output()), metrics.BuildFailed
	}

	logger.Info("build finished", "artifacts", artifacts)
	return success(version, artifacts), metrics.BuildBuilt
}

func (e *Executor) allPublished(ctx context.Context, artifacts []string, logger *slog.Logger) bool {
	if len(e.probers) == 0 {
		return false
	}
	for _, ref := range artifacts {
		if !e.published(ctx, ref, logger) {
			logger.Debug("artifact not published", "ref", ref)
			return false
		}
	}
	return true
}

func (e *Executor) published(ctx context.Context, ref string, logger *slog.Logger) bool {
	for _, p := range e.probers {
		ok, err := p.Exists(ctx, ref)
		if err != nil {
			logger.Warn("artifact probe failed", "ref", ref, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (e *Executor) toolchain(workspace string) (string, []string) {
	if len(e.command) > 0 {
		return e.command[0], e.command[1:]
	}
	return ToolchainCommand(workspace, e.task)
}

func (e *Executor) fail(logger *slog.Logger, msg string, err error) (release.BuildOutcome, string) {
	logger.Error(msg, "error", err)
	return release.FailedBuild(msg + ": " + err.Error()), metrics.BuildFailed
}

func success(version string, artifacts []string) release.BuildOutcome {
	return release.BuildOutcome{
		BuildVersion: release.Success(version),
		ArtifactURLs: release.Success(artifacts),
	}
}
