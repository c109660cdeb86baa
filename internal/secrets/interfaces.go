package secrets

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ManagerAPI is the subset of the Secrets Manager client used here.
type ManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)
}

// Cache stores secret values between lookups. Implementations must be safe
// for concurrent use.
type Cache interface {
	Get(key string) (string, bool)
	Set(key string, value string, ttl time.Duration)
}
