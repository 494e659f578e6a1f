// Package config holds the validated configuration types shared across
// wasm-core: per-execution bounds and the server's startup settings.
package config

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

// ExecutionConfig bounds a single execution or a single stage of a chain.
// Zero values are replaced by DefaultExecutionConfig's defaults before
// validation, matching the "Defaults: 5000 ms, 64 MB" rule.
type ExecutionConfig struct {
	TimeoutMS     uint64 `json:"timeout_ms" validate:"required,gte=1,lte=60000"`
	MemoryLimitMB uint32 `json:"memory_limit_mb" validate:"required,gte=1,lte=512"`
}

// DefaultExecutionConfig returns the spec-mandated defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{TimeoutMS: 5000, MemoryLimitMB: 64}
}

// WithDefaults fills zero fields with the default values, then returns the
// result unchanged otherwise. Callers should still call Validate after.
func (c ExecutionConfig) WithDefaults() ExecutionConfig {
	d := DefaultExecutionConfig()
	if c.TimeoutMS == 0 {
		c.TimeoutMS = d.TimeoutMS
	}
	if c.MemoryLimitMB == 0 {
		c.MemoryLimitMB = d.MemoryLimitMB
	}
	return c
}

var (
	validatorOnce sync.Once
	v             *validator.Validate
)

func shared() *validator.Validate {
	validatorOnce.Do(func() {
		v = validator.New()
	})
	return v
}

// Validate checks an ExecutionConfig against the bounds in §3: timeout_ms
// in [1, 60000], memory_limit_mb in [1, 512].
func (c ExecutionConfig) Validate() error {
	return shared().Struct(c)
}

// ChainRequest is the validated shape of an ExecuteChain payload's length
// constraint: 1 to 10 stages.
type ChainRequest struct {
	BinaryIDs []string `validate:"required,min=1,max=10"`
}

// Validate checks the chain length bound.
func (c ChainRequest) Validate() error {
	return shared().Struct(c)
}

// ServerConfig holds the wasmcored process's startup settings, built via
// functional options the way the teacher's cmd/run builds its flags.
type ServerConfig struct {
	SocketPath         string
	MetadataPath       string
	MaxConcurrent      int64
	TraceCapacity      int
	EagerRecompile     bool
}

// Option configures a ServerConfig.
type Option func(*ServerConfig)

// WithSocketPath overrides the default Unix socket path.
func WithSocketPath(path string) Option {
	return func(c *ServerConfig) { c.SocketPath = path }
}

// WithMetadataPath overrides the default metadata persistence file.
func WithMetadataPath(path string) Option {
	return func(c *ServerConfig) { c.MetadataPath = path }
}

// WithMaxConcurrentExecutions overrides the default concurrent-execution cap.
func WithMaxConcurrentExecutions(n int64) Option {
	return func(c *ServerConfig) { c.MaxConcurrent = n }
}

// WithTraceCapacity overrides the default tracer ring size. 0 disables
// tracing entirely.
func WithTraceCapacity(n int) Option {
	return func(c *ServerConfig) { c.TraceCapacity = n }
}

// WithEagerRecompile toggles startup recompilation of every metadata entry.
func WithEagerRecompile(eager bool) Option {
	return func(c *ServerConfig) { c.EagerRecompile = eager }
}

// NewServerConfig builds a ServerConfig from defaults plus options.
func NewServerConfig(opts ...Option) ServerConfig {
	c := ServerConfig{
		SocketPath:     "/tmp/wasm-core.sock",
		MetadataPath:   "metadata.json",
		MaxConcurrent:  1000,
		TraceCapacity:  100,
		EagerRecompile: true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
