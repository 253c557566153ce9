package entities

import (
	"time"
)

// Default resource limits.
const (
	DefaultTimeout           = 5 * time.Second
	DefaultInstructionBudget = 10_000_000
	DefaultMemorySize        = 64 * 1024
	DefaultStackSize         = 16 * 1024
	DefaultHostModule        = "env"
)

// Config represents runtime configuration for the host.
type Config struct {
	// LogLevel is the logging verbosity level (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty" yaml:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`

	// HostModule is the import module name wasm guests link host functions from.
	HostModule string `json:"host_module,omitempty" yaml:"host_module,omitempty"`

	// Timeout is the watchdog limit for a single invocation. Zero disables it.
	Timeout time.Duration `json:"timeout" yaml:"timeout" validate:"gte=0"`

	// InstructionBudget bounds instructions retired per invocation on the
	// soft processing element. Zero means unlimited.
	InstructionBudget uint64 `json:"instruction_budget" yaml:"instruction_budget"`

	// MemorySize is the data memory size of a processing element in bytes.
	MemorySize uint32 `json:"memory_size" yaml:"memory_size" validate:"gte=4096"`

	// StackSize is the part of data memory reserved for the guest stack.
	StackSize uint32 `json:"stack_size" yaml:"stack_size" validate:"gte=512,ltfield=MemorySize"`

	// NumPE is the number of processing elements of an emulated device.
	NumPE int `json:"num_pe" yaml:"num_pe" validate:"gte=1,lte=64"`

	// StrictCompletion turns a normal return from any entry into a trap.
	StrictCompletion bool `json:"strict_completion,omitempty" yaml:"strict_completion,omitempty"`
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:          "info",
		HostModule:        DefaultHostModule,
		Timeout:           DefaultTimeout,
		InstructionBudget: DefaultInstructionBudget,
		MemorySize:        DefaultMemorySize,
		StackSize:         DefaultStackSize,
		NumPE:             1,
	}
}

// ConfigOption is a functional option for configuring runtime settings.
type ConfigOption func(*Config)

// WithTimeout sets the watchdog timeout. Negative values are ignored.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		if d >= 0 {
			c.Timeout = d
		}
	}
}

// WithInstructionBudget sets the per-invocation instruction budget.
func WithInstructionBudget(n uint64) ConfigOption {
	return func(c *Config) {
		c.InstructionBudget = n
	}
}

// WithMemorySize sets the data memory size.
func WithMemorySize(size uint32) ConfigOption {
	return func(c *Config) {
		if size > 0 {
			c.MemorySize = size
		}
	}
}

// WithStackSize sets the stack reservation.
func WithStackSize(size uint32) ConfigOption {
	return func(c *Config) {
		if size > 0 {
			c.StackSize = size
		}
	}
}

// WithStrictCompletion requires every entry to call the completion primitive.
func WithStrictCompletion(enabled bool) ConfigOption {
	return func(c *Config) {
		c.StrictCompletion = enabled
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level string) ConfigOption {
	return func(c *Config) {
		if level != "" {
			c.LogLevel = level
		}
	}
}

// NewConfig creates a Config from the defaults and the given options.
func NewConfig(opts ...ConfigOption) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
