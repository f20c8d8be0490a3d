// Package sandbox runs rlm sessions in a long-lived Python interpreter that
// speaks a JSON-lines protocol over its standard streams.
package sandbox

import (
	"log/slog"
	"time"
)

// Option configures a Subprocess or Docker runtime.
type Option func(*config)

type config struct {
	// Shared options.
	timeout      time.Duration // per-block limit enforced by the interpreter
	grace        time.Duration // extra time before the interpreter is killed
	startTimeout time.Duration
	maxOutput    int
	logger       *slog.Logger

	// Subprocess options.
	pythonBin      string
	workspace      string
	envPassthrough bool
	envVars        map[string]string

	// Docker options.
	image    string
	memory   int64
	nanoCPUs int64
}

func defaultConfig() config {
	return config{
		timeout:      5 * time.Minute,
		grace:        10 * time.Second,
		startTimeout: 30 * time.Second,
		maxOutput:    1 << 20, // per stream
		pythonBin:    "python3",
		image:        "python:3.12-slim",
		memory:       512 << 20,
	}
}

func buildConfig(opts []Option) config {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

// WithTimeout sets the maximum duration of a single block, including the
// llm_query calls it makes. A block that runs longer is interrupted and the
// timeout is reported on stderr. Default: 5m.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithKillGrace sets how long past the block timeout the runtime waits for the
// interpreter before killing it and closing the session. Default: 10s.
func WithKillGrace(d time.Duration) Option {
	return func(c *config) { c.grace = d }
}

// WithStartTimeout bounds interpreter startup and context loading. Default: 30s.
func WithStartTimeout(d time.Duration) Option {
	return func(c *config) { c.startTimeout = d }
}

// WithMaxOutput caps captured stdout and stderr per block, in characters.
// Default: 1M.
func WithMaxOutput(chars int) Option {
	return func(c *config) { c.maxOutput = chars }
}

// WithLogger sets the logger for interpreter lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithPython sets the interpreter binary used by Subprocess. Default: python3.
func WithPython(bin string) Option {
	return func(c *config) { c.pythonBin = bin }
}

// WithWorkspace sets the working directory of the interpreter.
// Default: os.TempDir().
func WithWorkspace(dir string) Option {
	return func(c *config) { c.workspace = dir }
}

// WithEnvPassthrough passes the full parent environment to the interpreter.
// By default only PATH, HOME and LANG are set.
func WithEnvPassthrough() Option {
	return func(c *config) { c.envPassthrough = true }
}

// WithEnv adds an environment variable for the interpreter.
func WithEnv(key, value string) Option {
	return func(c *config) {
		if c.envVars == nil {
			c.envVars = make(map[string]string)
		}
		c.envVars[key] = value
	}
}

// WithImage sets the container image used by Docker. The image must provide
// python3. Default: python:3.12-slim.
func WithImage(image string) Option {
	return func(c *config) { c.image = image }
}

// WithMemoryLimit sets the container memory limit in bytes. Default: 512MB.
func WithMemoryLimit(bytes int64) Option {
	return func(c *config) { c.memory = bytes }
}

// WithCPUs sets the container CPU quota (e.g. 1.5). Default: unlimited.
func WithCPUs(cpus float64) Option {
	return func(c *config) { c.nanoCPUs = int64(cpus * 1e9) }
}
