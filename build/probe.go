package build

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/input-output-hk/brencher/executor"
)

// Prober reports whether an artifact reference (image:tag) is already
// published.
type Prober interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

// DockerProber asks the docker CLI. It checks the local daemon first and,
// when Remote is set, falls back to docker manifest inspect.
type DockerProber struct {
	Runner executor.Runner
	Binary string
	Remote bool
}

// Exists implements Prober.
func (p *DockerProber) Exists(ctx context.Context, ref string) (bool, error) {
	binary := p.Binary
	if binary == "" {
		binary = "docker"
	}

	result, err := p.Runner.Run(ctx, binary, []string{"images", "-q", ref})
	if err == nil && strings.TrimSpace(result.Stdout) != "" {
		return true, nil
	}
	if err != nil && result != nil && result.ExitCode == -1 {
		return false, fmt.Errorf("docker unavailable: %w", err)
	}

	if !p.Remote {
		return false, nil
	}

	result, err = p.Runner.Run(ctx, binary, []string{"manifest", "inspect", ref}, executor.WithCombinedOutput())
	if err != nil {
		return false, nil
	}
	return !strings.Contains(result.Output(), "no such manifest"), nil
}

// RegistryConfig configures RegistryProber.
type RegistryConfig struct {
	// PlainHTTP talks to registries over HTTP instead of HTTPS.
	PlainHTTP bool

	// Insecure skips TLS certificate verification.
	Insecure bool

	// StaticRegistry, StaticUsername and StaticPassword supply credentials
	// for one registry host. Other registries are accessed anonymously.
	StaticRegistry string
	StaticUsername string
	StaticPassword string

	// Timeout bounds each probe. Zero means 30 seconds.
	Timeout time.Duration
}

// RegistryProber resolves tags directly against an OCI registry.
type RegistryProber struct {
	cfg    RegistryConfig
	client *auth.Client
	logger *slog.Logger
}

// NewRegistryProber creates a RegistryProber.
func NewRegistryProber(cfg RegistryConfig, logger *slog.Logger) *RegistryProber {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for private registries
	}

	client := &auth.Client{
		Client: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		Cache:  auth.NewCache(),
	}
	if cfg.StaticRegistry != "" && cfg.StaticUsername != "" {
		client.Credential = auth.StaticCredential(cfg.StaticRegistry, auth.Credential{
			Username: cfg.StaticUsername,
			Password: cfg.StaticPassword,
		})
	}

	return &RegistryProber{cfg: cfg, client: client, logger: logger}
}

// Exists implements Prober.
func (p *RegistryProber) Exists(ctx context.Context, ref string) (bool, error) {
	repoPath, tag := splitImage(ref)
	if tag == "" {
		return false, fmt.Errorf("reference %q has no tag", ref)
	}

	repo, err := remote.NewRepository(repoPath)
	if err != nil {
		return false, fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	repo.PlainHTTP = p.cfg.PlainHTTP
	repo.Client = p.client

	desc, err := oras.Resolve(ctx, repo, tag, oras.DefaultResolveOptions)
	if errors.Is(err, errdef.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", ref, err)
	}
	if err := desc.Digest.Validate(); err != nil {
		return false, fmt.Errorf("registry returned bad digest for %s: %w", ref, err)
	}

	p.logger.Debug("artifact found in registry", "ref", ref, "digest", desc.Digest.String(),
		"mediaType", desc.MediaType, "index", desc.MediaType == ocispec.MediaTypeImageIndex)
	return true, nil
}
