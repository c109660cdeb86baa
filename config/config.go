// Package config loads brencher's runtime configuration from BRENCHER_*
// environment variables and resolves git credentials.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/input-output-hk/brencher/errors"
)

// Prefix is the environment variable prefix.
const Prefix = "brencher"

// State backends.
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// Config is the process configuration.
type Config struct {
	RepoURL      string   `envconfig:"REPO_URL" required:"true" desc:"Remote repository to mirror"`
	GitUsername  string   `envconfig:"GIT_USERNAME" desc:"Username for HTTPS remotes"`
	GitPassword  string   `envconfig:"GIT_PASSWORD" desc:"Password or token for HTTPS remotes"`
	GitSecret    string   `envconfig:"GIT_SECRET" desc:"Secrets Manager secret holding {\"username\",\"password\"}"`
	AllowedHosts []string `envconfig:"ALLOWED_HOSTS" desc:"Hosts credentials may be sent to"`

	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1m" desc:"Mirror refresh period, 0 disables"`
	DataDir         string        `envconfig:"DATA_DIR" desc:"Mirror working directory"`

	StateBackend string `envconfig:"STATE_BACKEND" default:"file" desc:"file or s3"`
	StateFile    string `envconfig:"STATE_FILE" desc:"Snapshot path for the file backend"`
	S3Bucket     string `envconfig:"S3_BUCKET"`
	S3Key        string `envconfig:"S3_KEY" default:"brencher/state.json"`
	S3Region     string `envconfig:"S3_REGION"`
	S3Endpoint   string `envconfig:"S3_ENDPOINT"`
	S3PathStyle  bool   `envconfig:"S3_PATH_STYLE" default:"false"`

	BuildCommand string `envconfig:"BUILD_COMMAND" desc:"Overrides the Gradle toolchain, split on whitespace"`
	BuildTask    string `envconfig:"BUILD_TASK" default:"jib"`

	DockerProbe       bool   `envconfig:"DOCKER_PROBE" default:"true"`
	DockerRemote      bool   `envconfig:"DOCKER_REMOTE" default:"false"`
	RegistryProbe     bool   `envconfig:"REGISTRY_PROBE" default:"false"`
	RegistryPlainHTTP bool   `envconfig:"REGISTRY_PLAIN_HTTP" default:"false"`
	RegistryInsecure  bool   `envconfig:"REGISTRY_INSECURE" default:"false"`
	RegistryHost      string `envconfig:"REGISTRY_HOST"`
	RegistryUsername  string `envconfig:"REGISTRY_USERNAME"`
	RegistryPassword  string `envconfig:"REGISTRY_PASSWORD"`

	Concurrency      int           `envconfig:"CONCURRENCY" default:"4"`
	SubscriberBuffer int           `envconfig:"SUBSCRIBER_BUFFER" default:"64"`
	SnapshotInterval time.Duration `envconfig:"SNAPSHOT_INTERVAL" default:"5m"`

	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "reading environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Usage prints the supported variables.
func Usage() error {
	var cfg Config
	return envconfig.Usage(Prefix, &cfg)
}

// Validate checks values envconfig cannot.
func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.CodeInvalidConfig, format, args...)
	}

	if c.RepoURL == "" {
		return invalid("BRENCHER_REPO_URL is required")
	}

	switch c.StateBackend {
	case BackendFile:
	case BackendS3:
		if c.S3Bucket == "" {
			return invalid("BRENCHER_S3_BUCKET is required for the s3 state backend")
		}
	default:
		return invalid("unknown state backend %q", c.StateBackend)
	}

	if c.RefreshInterval < 0 {
		return invalid("refresh interval must not be negative")
	}
	if c.SnapshotInterval <= 0 {
		return invalid("snapshot interval must be positive")
	}
	if c.Concurrency <= 0 {
		return invalid("concurrency must be positive")
	}
	if c.SubscriberBuffer <= 0 {
		return invalid("subscriber buffer must be positive")
	}
	if _, err := c.Level(); err != nil {
		return invalid("%s", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("unknown log format %q", c.LogFormat)
	}
	if c.GitSecret != "" && (c.GitUsername != "" || c.GitPassword != "") {
		return invalid("BRENCHER_GIT_SECRET and BRENCHER_GIT_USERNAME/PASSWORD are mutually exclusive")
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	return level, nil
}

// Command returns BuildCommand split into program and arguments, or nil.
func (c Config) Command() []string {
	if strings.TrimSpace(c.BuildCommand) == "" {
		return nil
	}
	return strings.Fields(c.BuildCommand)
}
