package wazero

import (
	"context"
	stdErrors "errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// AllocateExport is the guest export used to reserve host buffers.
const AllocateExport = "allocate"

// engineConfig holds configuration for the wazero engine.
type engineConfig struct {
	hostModule  string
	memoryPages uint32
	interpreter bool
}

func defaultEngineConfig() engineConfig {
	return engineConfig{hostModule: entities.DefaultHostModule}
}

// EngineOption configures the engine.
type EngineOption func(*engineConfig)

// WithHostModule sets the import module name host functions are exported
// under (default: "env").
func WithHostModule(name string) EngineOption {
	return func(c *engineConfig) {
		if name != "" {
			c.hostModule = name
		}
	}
}

// WithMemoryLimitPages caps the linear memory of every instance in 64 KiB
// pages. Zero keeps the wazero default.
func WithMemoryLimitPages(pages uint32) EngineOption {
	return func(c *engineConfig) {
		c.memoryPages = pages
	}
}

// WithInterpreter selects the wazero interpreter instead of the compiler.
func WithInterpreter(enabled bool) EngineOption {
	return func(c *engineConfig) {
		c.interpreter = enabled
	}
}

// ConfigOptions maps runtime configuration onto engine options.
func ConfigOptions(cfg entities.Config) []EngineOption {
	opts := []EngineOption{WithHostModule(cfg.HostModule)}
	if cfg.MemorySize > 0 {
		opts = append(opts, WithMemoryLimitPages((cfg.MemorySize+0xffff)/0x10000))
	}
	return opts
}

// Engine runs WebAssembly guests on one wazero runtime. The host function
// table is exported as a host module when the engine is created.
type Engine struct {
	rt    wazero.Runtime
	table ports.HostFunctionTable
	cfg   engineConfig
	seq   atomic.Uint64
}

var _ ports.Engine = (*Engine)(nil)

// NewEngine creates a runtime that closes modules when a call's context is
// done and registers table under the host module.
func NewEngine(ctx context.Context, table ports.HostFunctionTable, opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	rc := wazero.NewRuntimeConfig()
	if cfg.interpreter {
		rc = wazero.NewRuntimeConfigInterpreter()
	}
	rc = rc.WithCloseOnContextDone(true)
	if cfg.memoryPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.memoryPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)

	if table != nil {
		if err := registerHostModule(ctx, rt, table, cfg.hostModule); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("wazero: register host module %s: %w", cfg.hostModule, err)
		}
	}
	return &Engine{rt: rt, table: table, cfg: cfg}, nil
}

// Kind implements ports.Engine.
func (e *Engine) Kind() entities.Engine {
	return entities.EngineWasm
}

// Close implements ports.Engine.
func (e *Engine) Close(ctx context.Context) error {
	return e.rt.Close(ctx)
}

// Load compiles the module and checks every import against the host
// function table, including its signature.
func (e *Engine) Load(ctx context.Context, mod *entities.Module) (ports.Program, error) {
	if mod == nil || len(mod.Wasm) == 0 {
		return nil, fmt.Errorf("wazero: module has no wasm binary")
	}
	compiled, err := e.rt.CompileModule(ctx, mod.Wasm)
	if err != nil {
		return nil, &errors.LinkError{Object: mod.Name, Err: err}
	}
	if err := e.checkImports(mod.Name, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	var exports []string
	for name := range compiled.ExportedFunctions() {
		if name != AllocateExport {
			exports = append(exports, name)
		}
	}
	sort.Strings(exports)

	Logger().Debug("module compiled",
		zap.String("module", mod.Name),
		zap.Int("bytes", len(mod.Wasm)),
		zap.Strings("exports", exports),
	)
	return &program{engine: e, module: mod, compiled: compiled, exports: exports}, nil
}

func (e *Engine) checkImports(module string, compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		if modName != e.cfg.hostModule || e.table == nil {
			return &errors.UnresolvedImportError{Module: module, Name: modName + "." + name}
		}
		_, sig, ok := e.table.Lookup(name)
		if !ok {
			return &errors.UnresolvedImportError{Module: module, Name: name}
		}
		if !slices.Equal(def.ParamTypes(), valueTypes(sig.Params)) || !slices.Equal(def.ResultTypes(), valueTypes(sig.Results)) {
			return &errors.LinkError{
				Object: module,
				Symbol: name,
				Err:    fmt.Errorf("imported with a signature other than %s", sig),
			}
		}
	}
	return nil
}

type program struct {
	engine   *Engine
	module   *entities.Module
	compiled wazero.CompiledModule
	exports  []string
}

func (p *program) Exports() []string {
	return p.exports
}

// Instantiate creates a fresh module instance with its own linear memory.
// wazero requires unique instance names, so a sequence number is appended.
func (p *program) Instantiate(ctx context.Context, name string) (ports.Instance, error) {
	unique := fmt.Sprintf("%s#%d", name, p.engine.seq.Add(1))
	mod, err := p.engine.rt.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig().WithName(unique).WithStartFunctions())
	if err != nil {
		return nil, fmt.Errorf("wazero: instantiate %s: %w", p.module.Name, err)
	}
	return &instance{module: p.module, mod: mod, mem: newMemory(moduleMemory(mod))}, nil
}

func (p *program) Close(ctx context.Context) error {
	return p.compiled.Close(ctx)
}

type instance struct {
	module *entities.Module
	mod    api.Module
	mem    memory

	mu     sync.Mutex
	closed atomic.Bool
}

// Call runs an exported function. Completion through the host primitive,
// wazero traps and context expiry are mapped onto the engine contract.
func (i *instance) Call(ctx context.Context, entry string, args []uint64) (entities.Exit, error) {
	if i.Closed() {
		return entities.Exit{}, errors.ErrInstanceClosed
	}
	fn := i.mod.ExportedFunction(entry)
	if fn == nil || entry == AllocateExport {
		return entities.Exit{}, &errors.ExportNotFoundError{Module: i.module.Name, Name: entry}
	}
	def := fn.Definition()
	params := def.ParamTypes()
	if len(args) != len(params) {
		return entities.Exit{}, fmt.Errorf("wazero: %s takes %d arguments, got %d", entry, len(params), len(args))
	}
	in := make([]uint64, len(args))
	for n, a := range args {
		if params[n] == api.ValueTypeI32 {
			a = uint64(uint32(a))
		}
		in[n] = a
	}

	results, err := fn.Call(ctx, in...)
	if err == nil {
		exit := entities.Exit{Reason: entities.ExitReturned}
		if len(results) > 0 {
			exit.Result = results[0]
			if def.ResultTypes()[0] == api.ValueTypeI32 {
				exit.Result = uint64(uint32(exit.Result))
			}
		}
		exit.Exception = entities.ExceptionState{Code: entities.ExceptionHalted | entities.CauseReturned, Data: exit.Result}
		return exit, nil
	}
	return i.mapError(entry, err)
}

func (i *instance) mapError(entry string, err error) (entities.Exit, error) {
	if stdErrors.Is(err, errors.ErrGuestHalted) {
		return entities.Exit{
			Reason:    entities.ExitCompleted,
			Exception: entities.ExceptionState{Code: entities.ExceptionHalted | entities.CauseCompleted},
		}, nil
	}

	var exitErr *sys.ExitError
	if stdErrors.As(err, &exitErr) {
		i.closed.Store(true)
		return entities.Exit{Exception: entities.ExceptionState{Code: entities.ExceptionStopped}}, errors.ErrInterrupted
	}

	var trap *errors.TrapError
	if stdErrors.As(err, &trap) {
		if trap.Code == 0 {
			trap.Code = entities.ExceptionHalted | entities.CauseHostFault
		}
		return entities.Exit{Exception: entities.ExceptionState{Code: trap.Code}}, trap
	}

	kind, cause := classify(err)
	code := entities.ExceptionHalted | cause
	return entities.Exit{Exception: entities.ExceptionState{Code: code}}, &errors.TrapError{
		Kind:     kind,
		Function: entry,
		Code:     code,
		Err:      err,
	}
}

// classify maps a wazero runtime error message onto a trap kind.
func classify(err error) (errors.TrapKind, entities.ExceptionCode) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "integer divide by zero"):
		return errors.TrapDivisionByZero, entities.CauseDivisionByZero
	case strings.Contains(msg, "out of bounds memory access"):
		return errors.TrapMemoryFault, entities.CauseMemoryFault
	case strings.Contains(msg, "stack overflow"):
		return errors.TrapStackOverflow, entities.CauseStackOverflow
	case strings.Contains(msg, "unreachable"):
		return errors.TrapUnreachable, entities.CauseIllegalInstruction
	default:
		return errors.TrapIllegalInstruction, entities.CauseIllegalInstruction
	}
}

func (i *instance) Memory() ports.Memory {
	return i.mem
}

// Symbol resolves an exported i32 global holding the address of a data
// object. wasm carries no symbol sizes, so size is always zero.
func (i *instance) Symbol(name string) (uint32, uint32, bool) {
	g := i.mod.ExportedGlobal(name)
	if g == nil || g.Type() != api.ValueTypeI32 {
		return 0, 0, false
	}
	return uint32(g.Get()), 0, true
}

// Alloc calls the guest's allocate export.
func (i *instance) Alloc(ctx context.Context, size uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	fn := i.mod.ExportedFunction(AllocateExport)
	if fn == nil {
		return 0, &errors.ExportNotFoundError{Module: i.module.Name, Name: AllocateExport}
	}
	res, err := fn.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("wazero: allocate %d bytes: %w", size, err)
	}
	addr := uint32(res[0])
	limit := i.Memory().Size()
	if uint64(addr)+uint64(size) > uint64(limit) {
		return 0, &errors.MemoryError{Requested: int(size), Current: int(addr), Limit: int(limit)}
	}
	return addr, nil
}

// Closed also reports modules wazero closed because a call's context ended.
func (i *instance) Closed() bool {
	return i.closed.Load() || i.mod.IsClosed()
}

func (i *instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.mod.Close(ctx)
}
