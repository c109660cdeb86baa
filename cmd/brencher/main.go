// Command brencher keeps integration branches of a git repository in sync with
// release definitions and builds them.
//
// Configuration is read from BRENCHER_* environment variables; run with -h to
// list them.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/input-output-hk/brencher/build"
	"github.com/input-output-hk/brencher/config"
	"github.com/input-output-hk/brencher/executor"
	"github.com/input-output-hk/brencher/internal/secrets"
	"github.com/input-output-hk/brencher/merge"
	"github.com/input-output-hk/brencher/metrics"
	"github.com/input-output-hk/brencher/mirror"
	"github.com/input-output-hk/brencher/orchestrator"
	"github.com/input-output-hk/brencher/release"
	"github.com/input-output-hk/brencher/service"
	"github.com/input-output-hk/brencher/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		if err := config.Usage(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("brencher stopped with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level, _ := cfg.Level()
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	creds, err := resolveCredentials(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runner := executor.New()

	mirrorOpts := []mirror.Option{
		mirror.WithLogger(logger.With("component", "mirror")),
		mirror.WithMetrics(m),
		mirror.WithRunner(runner),
		mirror.WithAllowedHosts(cfg.AllowedHosts...),
	}
	if cfg.DataDir != "" {
		mirrorOpts = append(mirrorOpts, mirror.WithWorkDir(cfg.DataDir))
	}
	mir := mirror.New(mirrorOpts...)
	defer mir.Close()

	if err := mir.Configure(ctx, mirror.Remote{
		URL:             cfg.RepoURL,
		Credentials:     creds,
		RefreshInterval: cfg.RefreshInterval,
	}); err != nil {
		return fmt.Errorf("configuring repository: %w", err)
	}

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, backend,
		store.WithLogger(logger.With("component", "store")),
		store.WithMetrics(m),
		store.WithSaveInterval(cfg.SnapshotInterval),
	)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := service.New(st, mir,
		service.WithLogger(logger.With("component", "service")),
		service.WithSubscriberBuffer(cfg.SubscriberBuffer),
	)
	cancelUpdates := svc.SubscribeToReleaseUpdates(ctx, func(ev release.Event) {
		logger.Debug("release event", "kind", ev.Kind, "release", ev.Release.Name, "trigger", ev.Trigger, "event", ev.EventID)
	})
	defer cancelUpdates()

	merger := merge.NewExecutor(mir,
		merge.WithLogger(logger.With("component", "merge")),
		merge.WithMetrics(m),
	)
	builder := build.NewExecutor(mir, buildOptions(cfg, logger, m, runner)...)

	worker := orchestrator.NewWorker(st, merger, builder,
		orchestrator.WithLogger(logger.With("component", "orchestrator")),
		orchestrator.WithMetrics(m),
		orchestrator.WithConcurrency(cfg.Concurrency),
	)

	logger.Info("brencher started",
		"repository", cfg.RepoURL,
		"branches", len(svc.ListBranches()),
		"releases", len(svc.ListReleases()),
		"environments", len(svc.ListEnvironments()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return st.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, logger) })
	}

	return g.Wait()
}

func resolveCredentials(ctx context.Context, cfg config.Config, logger *slog.Logger) (mirror.Credentials, error) {
	if cfg.GitSecret == "" {
		return config.ResolveCredentials(ctx, cfg, nil)
	}

	client, err := secrets.NewClient(ctx,
		secrets.WithLogger(logger.With("component", "secrets")),
		secrets.WithCache(secrets.NewInMemoryCache(time.Hour, 16), time.Hour),
	)
	if err != nil {
		return mirror.Credentials{}, fmt.Errorf("creating secrets client: %w", err)
	}
	return config.ResolveCredentials(ctx, cfg, client)
}

func newBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Backend, error) {
	if cfg.StateBackend == config.BackendS3 {
		backend, err := store.NewS3BackendFromConfig(ctx, store.S3Config{
			Bucket:    cfg.S3Bucket,
			Key:       cfg.S3Key,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 state backend: %w", err)
		}
		logger.Info("using s3 state backend", "bucket", cfg.S3Bucket, "key", cfg.S3Key)
		return backend, nil
	}

	backend := store.NewFileBackend(cfg.StateFile)
	logger.Info("using file state backend", "path", backend.Path())
	return backend, nil
}

func buildOptions(cfg config.Config, logger *slog.Logger, m *metrics.Metrics, runner executor.Runner) []build.Option {
	opts := []build.Option{
		build.WithLogger(logger.With("component", "build")),
		build.WithMetrics(m),
		build.WithRunner(runner),
		build.WithTask(cfg.BuildTask),
	}
	if command := cfg.Command(); len(command) > 0 {
		opts = append(opts, build.WithCommand(command...))
	}

	var probers []build.Prober
	if cfg.RegistryProbe {
		probers = append(probers, build.NewRegistryProber(build.RegistryConfig{
			PlainHTTP:      cfg.RegistryPlainHTTP,
			Insecure:       cfg.RegistryInsecure,
			StaticRegistry: cfg.RegistryHost,
			StaticUsername: cfg.RegistryUsername,
			StaticPassword: cfg.RegistryPassword,
		}, logger.With("component", "registry")))
	}
	if cfg.DockerProbe {
		if executor.LookPath("docker") {
			probers = append(probers, &build.DockerProber{Runner: runner, Remote: cfg.DockerRemote})
		} else {
			logger.Warn("docker not found, docker artifact probe disabled")
		}
	}
	if len(probers) > 0 {
		opts = append(opts, build.WithProbers(probers...))
	}
	return opts
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving metrics", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
