package host

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/application/validation"
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/infrastructure/metrics"
	"github.com/datenlord/wbpf-userspace/infrastructure/wazero"
	"github.com/datenlord/wbpf-userspace/infrastructure/wbpf"
)

// DefaultDataOffset keeps the first bytes of wBPF data memory unused so a
// zero pointer never aliases guest data.
const DefaultDataOffset = 0x100

const tracerName = "github.com/datenlord/wbpf-userspace/host"

// CompletionObserver is notified of every completion the trampoline
// delivers.
type CompletionObserver func(ctx context.Context, completion *entities.Completion)

// Executor owns the host function table and one engine per guest kind.
type Executor struct {
	registry       *hostfuncs.Registry
	table          ports.HostFunctionTable
	cfg            entities.Config
	logger         *zap.Logger
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *metrics.Collector
	observers      []CompletionObserver
	engines        map[entities.Engine]ports.Engine
	owned          []ports.Engine
	dataOffset     uint32
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	e := &Executor{
		cfg:        entities.DefaultConfig(),
		logger:     zap.NewNop(),
		engines:    make(map[entities.Engine]ports.Engine),
		dataOffset: DefaultDataOffset,
	}
	for _, opt := range opts {
		opt(e)
	}

	if res := validation.ValidateConfig(e.cfg); !res.Valid {
		return nil, &errors.ConfigError{Field: res.Errors[0].Field, Err: stdErrors.New(res.Summary())}
	}

	// Default registry if not provided
	if e.registry == nil {
		reg, err := hostfuncs.NewRegistry(
			hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware()),
			hostfuncs.WithBundle(hostfuncs.StandardBundle(e.logger)),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create default registry: %w", err)
		}
		e.registry = reg
	}
	e.table = e.registry
	if e.metrics != nil {
		e.table = observedTable{HostFunctionTable: e.registry, observe: e.metrics.ObserveHostCall}
	}

	if e.tracerProvider == nil {
		e.tracerProvider = otel.GetTracerProvider()
	}
	e.tracer = e.tracerProvider.Tracer(tracerName)

	if _, ok := e.engines[entities.EngineBPF]; !ok {
		eng := wbpf.NewEngine(e.table, wbpf.ConfigOptions(e.cfg)...)
		e.engines[entities.EngineBPF] = eng
		e.owned = append(e.owned, eng)
	}
	if _, ok := e.engines[entities.EngineWasm]; !ok {
		eng, err := wazero.NewEngine(ctx, e.table, wazero.ConfigOptions(e.cfg)...)
		if err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("failed to create wasm engine: %w", err)
		}
		e.engines[entities.EngineWasm] = eng
		e.owned = append(e.owned, eng)
	}

	e.logger.Debug("executor ready",
		zap.Strings("host_functions", e.registry.Names()),
		zap.Duration("timeout", e.cfg.Timeout),
		zap.Uint64("instruction_budget", e.cfg.InstructionBudget),
	)
	return e, nil
}

// Close releases resources held by the executor.
func (e *Executor) Close(ctx context.Context) error {
	var errs []error
	for _, eng := range e.owned {
		if err := eng.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.owned = nil
	return stdErrors.Join(errs...)
}

// Config returns the runtime configuration.
func (e *Executor) Config() entities.Config {
	return e.cfg
}

// Registry returns the host function registry.
func (e *Executor) Registry() *hostfuncs.Registry {
	return e.registry
}

// Platform returns the platform wBPF guests must be linked against to run
// on this executor.
func (e *Executor) Platform() *entities.HostPlatform {
	return e.registry.Platform(e.dataOffset)
}

// Load resolves the module's imports against the host function table and
// compiles it. Every entry the manifest declares must be exported.
func (e *Executor) Load(ctx context.Context, mod *entities.Module) (*Module, error) {
	if mod == nil {
		return nil, fmt.Errorf("load: nil module")
	}
	eng, ok := e.engines[mod.Engine]
	if !ok {
		return nil, fmt.Errorf("load %s: no engine for %q", mod.Name, mod.Engine)
	}
	if err := e.registry.Resolve(mod.Name, mod.Imports()); err != nil {
		return nil, err
	}
	prog, err := eng.Load(ctx, mod)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", mod.Name, err)
	}

	loaded := newModule(e, mod, prog)
	if mod.Manifest != nil {
		for _, entry := range mod.Manifest.Entries {
			if !loaded.exported(entry.Name) {
				_ = prog.Close(ctx)
				return nil, &errors.ExportNotFoundError{Module: mod.Name, Name: entry.Name}
			}
		}
	}

	e.logger.Info("module loaded",
		zap.String("module", mod.Name),
		zap.String("engine", string(mod.Engine)),
		zap.Strings("exports", prog.Exports()),
	)
	return loaded, nil
}

// observedTable reports every host call to observe.
type observedTable struct {
	ports.HostFunctionTable
	observe func(function string, elapsed time.Duration, err error)
}

func (t observedTable) Call(ctx context.Context, mem ports.Memory, index int32, args []uint64) (uint64, error) {
	start := time.Now()
	res, err := t.HostFunctionTable.Call(ctx, mem, index, args)
	name, _, ok := t.Describe(index)
	if !ok {
		name = fmt.Sprintf("helper#%d", index)
	}
	t.observe(name, time.Since(start), err)
	return res, err
}
