// Package executor runs external programs (git, the build toolchain, docker)
// with output capture, working directory and environment control, and
// context-driven cancellation.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Result holds the captured output and exit status of a command.
type Result struct {
	Stdout   string
	Stderr   string
	Combined string
	ExitCode int
}

// Output returns the most useful captured text for diagnostics:
// combined output when captured, otherwise stderr followed by stdout.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if r.Combined != "" {
		return r.Combined
	}
	return strings.TrimSpace(r.Stderr + "\n" + r.Stdout)
}

// Runner executes a program. Components depend on this interface so tests
// can substitute a fake.
type Runner interface {
	Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error)
}

// Options configures command execution behavior.
type Options struct {
	// CaptureCombined interleaves stdout and stderr into Result.Combined
	// instead of capturing them separately.
	CaptureCombined bool

	// WorkingDir is the directory the command runs in.
	WorkingDir string

	// Env holds variables appended to the current process environment.
	Env map[string]string

	// StdoutWriter and StderrWriter receive a copy of the streams.
	StdoutWriter io.Writer
	StderrWriter io.Writer
}

// Option is a function that modifies Options.
type Option func(*Options)

// WithCombinedOutput captures stdout and stderr interleaved.
func WithCombinedOutput() Option {
	return func(o *Options) {
		o.CaptureCombined = true
	}
}

// WithWorkingDir sets the working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) {
		o.WorkingDir = dir
	}
}

// WithEnvVar adds a single environment variable.
func WithEnvVar(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// WithEnv adds environment variables.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		for k, v := range env {
			WithEnvVar(k, v)(o)
		}
	}
}

// WithStdoutWriter tees stdout into w.
func WithStdoutWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StdoutWriter = w
	}
}

// WithStderrWriter tees stderr into w.
func WithStderrWriter(w io.Writer) Option {
	return func(o *Options) {
		o.StderrWriter = w
	}
}

// CommandRunner is the os/exec backed Runner.
type CommandRunner struct {
	defaults []Option
}

// New creates a CommandRunner. The given options apply to every Run call
// and may be overridden per call.
func New(defaults ...Option) *CommandRunner {
	return &CommandRunner{defaults: defaults}
}

// Run executes program with args. A non-zero exit is returned as an error
// wrapping *exec.ExitError; the Result is populated in every case.
func (c *CommandRunner) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	options := &Options{}
	for _, opt := range c.defaults {
		opt(options)
	}
	for _, opt := range opts {
		opt(options)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = append(os.Environ(), envList(options.Env)...)
	}

	var stdoutBuf, stderrBuf, combinedBuf bytes.Buffer
	stdout := []io.Writer{&stdoutBuf}
	stderr := []io.Writer{&stderrBuf}
	if options.CaptureCombined {
		stdout = []io.Writer{&combinedBuf}
		stderr = []io.Writer{&combinedBuf}
	}
	if options.StdoutWriter != nil {
		stdout = append(stdout, options.StdoutWriter)
	}
	if options.StderrWriter != nil {
		stderr = append(stderr, options.StderrWriter)
	}
	cmd.Stdout = io.MultiWriter(stdout...)
	cmd.Stderr = io.MultiWriter(stderr...)

	err := cmd.Run()

	result := &Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Combined: combinedBuf.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.ExitCode = 0
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
	}

	if err != nil {
		return result, fmt.Errorf("%s %s: %w", program, strings.Join(args, " "), err)
	}
	return result, nil
}

// LookPath reports whether program is available on PATH.
func LookPath(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}
