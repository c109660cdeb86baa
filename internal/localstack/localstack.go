// Package localstack starts a LocalStack container for integration tests of
// the AWS backed components.
package localstack

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
)

// Image is the LocalStack image used by Start.
const Image = "localstack/localstack:latest"

// Region is the region clients are configured with.
const Region = "us-east-1"

var (
	once      sync.Once
	container *localstack.LocalStackContainer
	endpoint  string
	startErr  error
)

// Endpoint starts the shared container on first use and returns its edge URL.
// The container is terminated by Terminate, usually from TestMain.
func Endpoint(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping LocalStack test in short mode")
	}

	once.Do(func() {
		ctx := context.Background()
		container, startErr = localstack.Run(ctx, Image,
			testcontainers.WithEnv(map[string]string{"SERVICES": "s3,secretsmanager"}),
		)
		if startErr != nil {
			return
		}

		port, _ := nat.NewPort("tcp", "4566")
		endpoint, startErr = container.PortEndpoint(ctx, port, "")
		if startErr == nil && !strings.HasPrefix(endpoint, "http") {
			endpoint = "http://" + endpoint
		}
	})
	require.NoError(t, startErr, "starting LocalStack")
	return endpoint
}

// Config returns an AWS config with static test credentials.
func Config(t testing.TB) aws.Config {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(Region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "test", SecretAccessKey: "test"}, nil
			})),
	)
	require.NoError(t, err)
	return cfg
}

// Terminate stops the shared container if it was started.
func Terminate(ctx context.Context) error {
	if container == nil {
		return nil
	}
	return container.Terminate(ctx)
}
