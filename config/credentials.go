package config

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/input-output-hk/brencher/errors"
	"github.com/input-output-hk/brencher/mirror"
)

// SecretGetter returns secret values by name.
type SecretGetter interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// ResolveCredentials returns the git credentials for the mirror. When
// GitSecret is set the secret is read through secrets and must be a JSON
// object with a password and an optional username; otherwise the static
// username and password are used.
func ResolveCredentials(ctx context.Context, cfg Config, secrets SecretGetter) (mirror.Credentials, error) {
	if cfg.GitSecret == "" {
		return mirror.Credentials{Username: cfg.GitUsername, Password: cfg.GitPassword}, nil
	}
	if secrets == nil {
		return mirror.Credentials{}, errors.New(errors.CodeInvalidConfig, "no secrets client for BRENCHER_GIT_SECRET")
	}

	value, err := secrets.GetSecret(ctx, cfg.GitSecret)
	if err != nil {
		return mirror.Credentials{}, errors.WrapWithContext(err, errors.CodeInvalidConfig,
			"reading git credentials", map[string]interface{}{"secret": cfg.GitSecret})
	}

	if !gjson.Valid(value) {
		return mirror.Credentials{}, errors.New(errors.CodeInvalidConfig, "git credentials secret is not JSON").
			WithContext("secret", cfg.GitSecret)
	}
	fields := gjson.GetMany(value, "username", "password")
	creds := mirror.Credentials{Username: fields[0].String(), Password: fields[1].String()}
	if creds.Password == "" {
		return mirror.Credentials{}, errors.New(errors.CodeInvalidConfig, "git credentials secret has no password").
			WithContext("secret", cfg.GitSecret)
	}
	return creds, nil
}
