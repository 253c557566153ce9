package host

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/infrastructure/metrics"
)

// Option defines a functional option for configuring the Executor.
type Option func(*Executor)

// WithHostFunctions configures the executor with a host function registry.
func WithHostFunctions(registry *hostfuncs.Registry) Option {
	return func(e *Executor) {
		e.registry = registry
	}
}

// WithConfig sets the runtime configuration (default: entities.DefaultConfig).
func WithConfig(cfg entities.Config) Option {
	return func(e *Executor) {
		e.cfg = cfg
	}
}

// WithLogger sets the logger for executor events and the default guest log
// host function.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracerProvider sets the provider of the invocation tracer. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Executor) {
		e.tracerProvider = tp
	}
}

// WithMetrics records invocations and host calls in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) {
		e.metrics = c
	}
}

// WithCompletionObserver registers fn to be called once for every
// successful invocation.
func WithCompletionObserver(fn CompletionObserver) Option {
	return func(e *Executor) {
		if fn != nil {
			e.observers = append(e.observers, fn)
		}
	}
}

// WithEngine replaces the built-in engine for engine.Kind(). The executor
// does not close engines passed in this way.
func WithEngine(engine ports.Engine) Option {
	return func(e *Executor) {
		e.engines[engine.Kind()] = engine
	}
}

// WithDataOffset sets where linked data images are placed in wBPF data
// memory (default: DefaultDataOffset).
func WithDataOffset(offset uint32) Option {
	return func(e *Executor) {
		e.dataOffset = offset
	}
}
