package compiler

import (
	"io"
	"log/slog"
	"runtime"
)

// Config controls one compiler invocation. The zero value is not usable;
// build it with NewConfig.
type Config struct {
	UnitName string // labels IR units; derived from the source path when empty
	Seed     int32  // first unit and region id
	Backend  string // llvm, text or boxir
	Workers  int    // units compiled in parallel by CompileAll
	Logger   *slog.Logger
}

type Option func(*Config)

func WithUnitName(name string) Option {
	return func(c *Config) {
		c.UnitName = name
	}
}

func WithSeed(seed int32) Option {
	return func(c *Config) {
		c.Seed = seed
	}
}

func WithBackend(name string) Option {
	return func(c *Config) {
		c.Backend = name
	}
}

// WithWorkers bounds CompileAll; values below one mean one worker per CPU.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

func NewConfig(opts ...Option) Config {
	c := Config{
		Backend: "llvm",
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.Workers < 1 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// NewLogger returns the CLI logger: text records on w, debug records only
// when debug is set.
func NewLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
