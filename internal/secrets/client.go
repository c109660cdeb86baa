// Package secrets reads secret values from AWS Secrets Manager.
//
// Secret values are never logged; only secret names appear in log records.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
)

// AWS error codes.
const (
	ResourceNotFoundException = "ResourceNotFoundException"
	AccessDeniedException     = "AccessDeniedException"
)

// Client reads secrets. It is safe for concurrent use.
type Client struct {
	api    ManagerAPI
	logger *slog.Logger
	cache  Cache
	ttl    time.Duration
}

type clientOptions struct {
	logger *slog.Logger
	cache  Cache
	ttl    time.Duration
	region string
}

// Option configures a Client.
type Option func(*clientOptions)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCache caches secret values for ttl. A zero ttl uses the cache default.
func WithCache(cache Cache, ttl time.Duration) Option {
	return func(o *clientOptions) {
		o.cache = cache
		o.ttl = ttl
	}
}

// WithRegion overrides the region from the default credential chain.
func WithRegion(region string) Option {
	return func(o *clientOptions) {
		o.region = region
	}
}

func newOptions(opts []Option) *clientOptions {
	o := &clientOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewClient creates a Client from the default AWS configuration.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := newOptions(opts)

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newClient(secretsmanager.NewFromConfig(cfg), o), nil
}

// NewClientWithAPI creates a Client around api.
func NewClientWithAPI(api ManagerAPI, opts ...Option) *Client {
	return newClient(api, newOptions(opts))
}

func newClient(api ManagerAPI, o *clientOptions) *Client {
	return &Client{api: api, logger: o.logger, cache: o.cache, ttl: o.ttl}
}

// GetSecret returns the value of the named secret. String secrets are
// returned as is; binary secrets are returned as their raw bytes.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("secret name cannot be empty")
	}

	if c.cache != nil {
		if v, ok := c.cache.Get(name); ok {
			c.logger.DebugContext(ctx, "secret served from cache", "secret_name", name)
			return v, nil
		}
	}

	c.logger.InfoContext(ctx, "retrieving secret", "secret_name", name)

	out, err := c.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &name})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case ResourceNotFoundException:
				return "", fmt.Errorf("GetSecret %s: %w", name, ErrSecretNotFound)
			case AccessDeniedException:
				return "", fmt.Errorf("GetSecret %s: %w", name, ErrAccessDenied)
			}
			c.logger.ErrorContext(ctx, "failed to retrieve secret", "secret_name", name, "error", err)
			return "", fmt.Errorf("GetSecret operation failed: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		c.logger.ErrorContext(ctx, "failed to retrieve secret", "secret_name", name, "error", err)
		return "", fmt.Errorf("GetSecret operation failed: %w", err)
	}

	var value string
	switch {
	case out.SecretString != nil:
		value = *out.SecretString
	case out.SecretBinary != nil:
		value = string(out.SecretBinary)
	}
	if value == "" {
		return "", fmt.Errorf("GetSecret %s: %w", name, ErrSecretEmpty)
	}

	if c.cache != nil {
		c.cache.Set(name, value, c.ttl)
	}
	return value, nil
}
