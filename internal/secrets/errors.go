package secrets

import "errors"

var (
	// ErrSecretNotFound is returned when the requested secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrSecretEmpty is returned when a secret exists but has no value.
	ErrSecretEmpty = errors.New("secret value is empty")

	// ErrAccessDenied is returned when the caller may not read the secret.
	ErrAccessDenied = errors.New("access denied to secret")
)
