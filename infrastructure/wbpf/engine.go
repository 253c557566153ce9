package wbpf

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

// arenaAlign is the alignment of host allocations in data memory.
const arenaAlign = 8

// Engine runs linked wBPF images on software devices. Every instance gets
// a dedicated single-element device with its own data memory.
type Engine struct {
	table ports.HostFunctionTable
	opts  []DeviceOption
	cfg   deviceConfig
}

var _ ports.Engine = (*Engine)(nil)

// NewEngine creates an engine dispatching helper calls through table.
func NewEngine(table ports.HostFunctionTable, opts ...DeviceOption) *Engine {
	cfg := defaultDeviceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{table: table, opts: append([]DeviceOption{WithNumPE(1)}, opts...), cfg: cfg}
}

// ConfigOptions maps runtime configuration onto device options.
func ConfigOptions(cfg entities.Config) []DeviceOption {
	return []DeviceOption{
		WithMemorySize(cfg.MemorySize),
		WithStackSize(cfg.StackSize),
		WithInstructionBudget(cfg.InstructionBudget),
	}
}

// Kind implements ports.Engine.
func (e *Engine) Kind() entities.Engine {
	return entities.EngineBPF
}

// Close implements ports.Engine.
func (e *Engine) Close(context.Context) error {
	return nil
}

// Load decodes the image and checks that every helper it calls is provided
// by the host function table under the index it was linked against.
func (e *Engine) Load(_ context.Context, mod *entities.Module) (ports.Program, error) {
	if mod == nil || mod.Image == nil {
		return nil, fmt.Errorf("wbpf: module has no image")
	}
	img := mod.Image
	code, err := DecodeProgram(img.Code)
	if err != nil {
		return nil, &errors.LinkError{Object: mod.Name, Err: err}
	}

	for _, name := range img.Functions() {
		off, _ := img.Function(name)
		if off < 0 || off%isa.SlotSize != 0 || int(off)/isa.SlotSize >= code.Len() {
			return nil, &errors.LinkError{Object: mod.Name, Symbol: name, Err: fmt.Errorf("function offset %d outside code", off)}
		}
	}

	dataEnd := uint64(img.DataOffset()) + uint64(len(img.Data))
	if limit := uint64(e.cfg.memSize - e.cfg.stackSize); dataEnd > limit {
		return nil, &errors.MemoryError{Requested: int(dataEnd), Limit: int(limit)}
	}

	if err := e.checkHelpers(mod, code); err != nil {
		return nil, err
	}

	Logger().Debug("image loaded",
		zap.String("module", mod.Name),
		zap.Int("slots", code.Len()),
		zap.Int("data", len(img.Data)),
	)
	return &program{engine: e, module: mod, code: code}, nil
}

func (e *Engine) checkHelpers(mod *entities.Module, code *Program) error {
	calls := code.HelperCalls()
	slots := make([]int, 0, len(calls))
	for s := range calls {
		slots = append(slots, s)
	}
	sort.Ints(slots)

	for _, s := range slots {
		idx := calls[s]
		from := functionAt(mod.Image, uint32(s*isa.SlotSize))
		name, linked := mod.Image.HelperName(idx)
		if !linked {
			if e.table == nil {
				return &errors.UnresolvedImportError{Module: mod.Name, Name: fmt.Sprintf("helper#%d", idx), From: from}
			}
			if _, _, ok := e.table.Describe(idx); !ok {
				return &errors.UnresolvedImportError{Module: mod.Name, Name: fmt.Sprintf("helper#%d", idx), From: from}
			}
			continue
		}
		if e.table == nil {
			return &errors.UnresolvedImportError{Module: mod.Name, Name: name, From: from}
		}
		got, _, ok := e.table.Lookup(name)
		if !ok {
			return &errors.UnresolvedImportError{Module: mod.Name, Name: name, From: from}
		}
		if got != idx {
			return &errors.LinkError{
				Object: mod.Name,
				Symbol: name,
				Err:    fmt.Errorf("linked as helper %d but the host table provides it as %d", idx, got),
			}
		}
	}
	return nil
}

// functionAt returns the function containing the byte offset pc.
func functionAt(img *entities.Image, pc uint32) string {
	var best string
	bestOff := int32(-1)
	for _, name := range img.Functions() {
		off, _ := img.Function(name)
		if off <= int32(pc) && off > bestOff {
			best, bestOff = name, off
		}
	}
	return best
}

type program struct {
	engine *Engine
	module *entities.Module
	code   *Program
}

func (p *program) Exports() []string {
	return p.module.Image.Functions()
}

func (p *program) Instantiate(_ context.Context, name string) (ports.Instance, error) {
	dev, err := NewDevice(p.engine.table, p.engine.opts...)
	if err != nil {
		return nil, err
	}
	if err := dev.LoadCode(0, p.code); err != nil {
		return nil, err
	}
	img := p.module.Image
	if err := dev.DataMemory().Write(img.DataOffset(), img.Data); err != nil {
		return nil, fmt.Errorf("wbpf: load data image: %w", err)
	}
	start := alignUp(img.DataOffset()+uint32(len(img.Data)), arenaAlign)
	return &instance{
		name:     name,
		module:   p.module,
		dev:      dev,
		arena:    start,
		arenaTop: start,
		arenaEnd: dev.StackBase(),
	}, nil
}

func (p *program) Close(context.Context) error {
	return nil
}

type instance struct {
	module *entities.Module
	dev    *Device
	name   string

	mu       sync.Mutex
	closed   atomic.Bool
	arena    uint32
	arenaTop uint32
	arenaEnd uint32
}

// Call runs entry on the instance's processing element.
func (i *instance) Call(ctx context.Context, entry string, args []uint64) (entities.Exit, error) {
	if i.closed.Load() {
		return entities.Exit{}, errors.ErrInstanceClosed
	}
	img := i.module.Image
	off, ok := img.Function(entry)
	if !ok {
		return entities.Exit{}, &errors.ExportNotFoundError{Module: i.module.Name, Name: entry}
	}
	res, err := i.dev.Run(ctx, 0, uint32(off), args)
	if err != nil {
		return entities.Exit{}, err
	}

	exit := entities.Exit{Result: res.Exception.Data, Exception: res.Exception, Perf: res.Perf}
	switch res.Exception.Code.Cause() {
	case entities.CauseCompleted:
		exit.Reason = entities.ExitCompleted
		return exit, nil
	case entities.CauseReturned:
		exit.Reason = entities.ExitReturned
		return exit, nil
	case entities.CauseInterrupted:
		return exit, errors.ErrInterrupted
	}
	return exit, &errors.TrapError{
		Kind:     errors.KindForCause(res.Exception.Code),
		Function: functionAt(img, res.Exception.PC),
		PC:       res.Exception.PC,
		Code:     res.Exception.Code,
		Err:      res.Fault,
	}
}

func (i *instance) Memory() ports.Memory {
	return i.dev.DataMemory()
}

func (i *instance) Symbol(name string) (uint32, uint32, bool) {
	sym, ok := i.module.Image.Symbol(name)
	if !ok {
		return 0, 0, false
	}
	return sym.Offset, sym.Size, true
}

// Alloc reserves memory between the data image and the stack.
func (i *instance) Alloc(_ context.Context, size uint32) (uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	addr := i.arenaTop
	end := uint64(addr) + uint64(size)
	if end > uint64(i.arenaEnd) {
		return 0, &errors.MemoryError{
			Requested: int(size),
			Current:   int(i.arenaTop - i.arena),
			Limit:     int(i.arenaEnd - i.arena),
		}
	}
	i.arenaTop = alignUp(uint32(end), arenaAlign)
	if i.arenaTop > i.arenaEnd {
		i.arenaTop = i.arenaEnd
	}
	return addr, nil
}

func (i *instance) Closed() bool {
	return i.closed.Load()
}

func (i *instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	return i.dev.StopAndWait(ctx, 0)
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
