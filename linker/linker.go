package linker

import (
	stdErrors "errors"
	"fmt"

	"github.com/cilium/ebpf/asm"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

// ErrMultipleDefinitions is wrapped by link errors for duplicate symbols.
var ErrMultipleDefinitions = stdErrors.New("multiple definitions")

// linkerConfig holds configuration for a Linker.
type linkerConfig struct {
	machine  *entities.TargetMachine
	platform *entities.HostPlatform
	roots    []string
}

// Option configures a Linker.
type Option func(*linkerConfig)

// WithPlatform sets the host platform calls and data are linked against.
func WithPlatform(p *entities.HostPlatform) Option {
	return func(c *linkerConfig) {
		c.platform = p
	}
}

// WithMachine sets the helpers implemented by the processing element.
func WithMachine(m *entities.TargetMachine) Option {
	return func(c *linkerConfig) {
		c.machine = m
	}
}

// WithDCERoots enables dead code elimination: only functions reachable
// from the named roots are kept.
func WithDCERoots(roots ...string) Option {
	return func(c *linkerConfig) {
		c.roots = append(c.roots, roots...)
	}
}

// Linker combines objects into a loadable image.
type Linker struct {
	cfg     linkerConfig
	objects []Object
}

// New creates a linker.
func New(opts ...Option) *Linker {
	cfg := linkerConfig{
		machine:  &entities.TargetMachine{},
		platform: &entities.HostPlatform{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.platform == nil {
		cfg.platform = &entities.HostPlatform{}
	}
	return &Linker{cfg: cfg}
}

// AddObject queues an object for linking.
func (l *Linker) AddObject(obj Object) error {
	if obj.Name == "" {
		return &errors.LinkError{Err: fmt.Errorf("object has no name")}
	}
	l.objects = append(l.objects, obj)
	return nil
}

// funcRef is a function together with the object defining it.
type funcRef struct {
	obj  string
	fn   *Function
	name string
	slot int
}

type dataRef struct {
	name string
	data *Data
	addr uint32
}

type linkState struct {
	cfg   linkerConfig
	funcs map[string]*funcRef
	order []*funcRef
	data  map[string]*dataRef
	dlist []*dataRef
}

// Link resolves every object into one image. Calls resolve to functions,
// then platform helpers, then machine helpers; anything else is an
// *errors.UnresolvedImportError.
func (l *Linker) Link() (*entities.Image, error) {
	st := &linkState{
		cfg:   l.cfg,
		funcs: make(map[string]*funcRef),
		data:  make(map[string]*dataRef),
	}
	if err := st.define(l.objects); err != nil {
		return nil, err
	}
	if len(l.cfg.roots) > 0 {
		if err := st.eliminateDeadCode(); err != nil {
			return nil, err
		}
	}

	image, err := st.layout()
	if err != nil {
		return nil, err
	}
	Logger().Debug("linked image",
		zap.Int("objects", len(l.objects)),
		zap.Int("functions", len(st.order)),
		zap.Int("code_bytes", len(image.Code)),
		zap.Int("data_bytes", len(image.Data)),
	)
	return image, nil
}

func (st *linkState) define(objects []Object) error {
	for oi := range objects {
		obj := &objects[oi]
		for fi := range obj.Functions {
			fn := &obj.Functions[fi]
			name := symbolName(obj.Name, fn.Name, fn.Global)
			if _, dup := st.funcs[name]; dup {
				return &errors.LinkError{
					Object: obj.Name,
					Symbol: name,
					Err:    fmt.Errorf("%w of function", ErrMultipleDefinitions),
				}
			}
			ref := &funcRef{obj: obj.Name, fn: fn, name: name}
			st.funcs[name] = ref
			st.order = append(st.order, ref)
		}
		for di := range obj.Data {
			d := &obj.Data[di]
			name := symbolName(obj.Name, d.Name, d.Global)
			if _, dup := st.data[name]; dup {
				return &errors.LinkError{
					Object: obj.Name,
					Symbol: name,
					Err:    fmt.Errorf("%w of data", ErrMultipleDefinitions),
				}
			}
			ref := &dataRef{name: name, data: d}
			st.data[name] = ref
			st.dlist = append(st.dlist, ref)
		}
	}
	return nil
}

// lookupFunc resolves a call target as seen from obj: a global symbol
// first, then a local symbol of the same object.
func (st *linkState) lookupFunc(obj, name string) (*funcRef, bool) {
	if f, ok := st.funcs[name]; ok {
		return f, true
	}
	f, ok := st.funcs[obj+":"+name]
	return f, ok
}

func (st *linkState) lookupData(obj, name string) (*dataRef, bool) {
	if d, ok := st.data[name]; ok {
		return d, true
	}
	d, ok := st.data[obj+":"+name]
	return d, ok
}

func isCall(ins asm.Instruction) bool {
	return ins.OpCode.Class() == asm.JumpClass && ins.OpCode.JumpOp() == asm.Call
}

func isJump(ins asm.Instruction) bool {
	c := ins.OpCode.Class()
	if c != asm.JumpClass && c != asm.Jump32Class {
		return false
	}
	op := ins.OpCode.JumpOp()
	return op != asm.Call && op != asm.Exit
}

func (st *linkState) eliminateDeadCode() error {
	keep := make(map[*funcRef]bool)
	var queue []*funcRef
	for _, root := range st.cfg.roots {
		f, ok := st.funcs[root]
		if !ok {
			return &errors.LinkError{Symbol: root, Err: fmt.Errorf("dce root not defined")}
		}
		if !keep[f] {
			keep[f] = true
			queue = append(queue, f)
		}
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for _, ins := range f.fn.Insns {
			if !isCall(ins) || ins.Reference() == "" {
				continue
			}
			if callee, ok := st.lookupFunc(f.obj, ins.Reference()); ok && !keep[callee] {
				keep[callee] = true
				queue = append(queue, callee)
			}
		}
	}

	kept := st.order[:0]
	for _, f := range st.order {
		if keep[f] {
			kept = append(kept, f)
			continue
		}
		delete(st.funcs, f.name)
		Logger().Debug("dropped unreachable function", zap.String("function", f.name))
	}
	st.order = kept
	return nil
}

func (st *linkState) layout() (*entities.Image, error) {
	slot := 0
	for _, f := range st.order {
		f.slot = slot
		slot += isa.SlotCount(f.fn.Insns)
	}

	base := st.cfg.platform.DataOffset
	var data []byte
	for _, d := range st.dlist {
		align := d.data.Align
		if align == 0 {
			align = DefaultDataAlign
		}
		off := alignUp(uint32(len(data)), align)
		data = append(data, make([]byte, int(off)-len(data))...)
		d.addr = base + off
		data = append(data, d.data.Bytes...)
	}

	var insns asm.Instructions
	table := &entities.OffsetTable{
		FuncOffsets: make(map[string]int32, len(st.order)),
		DataSymbols: make(map[string]entities.DataSymbol, len(st.dlist)),
	}
	for _, f := range st.order {
		resolved, err := st.relocate(f)
		if err != nil {
			return nil, err
		}
		insns = append(insns, resolved...)
		table.FuncOffsets[f.name] = int32(f.slot * isa.SlotSize)
	}
	for _, d := range st.dlist {
		table.DataSymbols[d.name] = entities.DataSymbol{Offset: d.addr, Size: uint32(len(d.data.Bytes))}
	}

	return &entities.Image{
		Code:        isa.Encode(insns),
		Data:        data,
		OffsetTable: table,
		Machine:     st.cfg.machine,
		Platform:    st.cfg.platform,
	}, nil
}

// relocate resolves labels, calls and data references of one function.
func (st *linkState) relocate(f *funcRef) (asm.Instructions, error) {
	labels := make(map[string]int)
	pos := make([]int, len(f.fn.Insns))
	slot := f.slot
	for i, ins := range f.fn.Insns {
		pos[i] = slot
		if sym := ins.Symbol(); sym != "" {
			labels[sym] = slot
		}
		slot += isa.Slots(ins)
	}

	out := make(asm.Instructions, len(f.fn.Insns))
	for i, ins := range f.fn.Insns {
		ref := ins.Reference()
		switch {
		case ref == "":
		case isCall(ins):
			if err := st.resolveCall(f, &ins, pos[i]); err != nil {
				return nil, err
			}
		case isJump(ins):
			target, ok := labels[ref]
			if !ok {
				return nil, &errors.LinkError{Object: f.obj, Symbol: f.name, Err: fmt.Errorf("undefined label %q", ref)}
			}
			ins.Offset = int16(target - (pos[i] + 1))
		case isa.IsDWordLoad(ins.OpCode):
			d, ok := st.lookupData(f.obj, ref)
			if !ok {
				return nil, &errors.LinkError{Object: f.obj, Symbol: f.name, Err: fmt.Errorf("undefined data symbol %q", ref)}
			}
			ins.Constant = int64(d.addr) + ins.Constant
			ins.Src = asm.R0
		default:
			return nil, &errors.LinkError{Object: f.obj, Symbol: f.name, Err: fmt.Errorf("unsupported reference %q at instruction %d", ref, i)}
		}
		out[i] = ins
	}
	return out, nil
}

func (st *linkState) resolveCall(f *funcRef, ins *asm.Instruction, at int) error {
	ref := ins.Reference()
	if callee, ok := st.lookupFunc(f.obj, ref); ok {
		ins.Src = asm.PseudoCall
		ins.Constant = int64(callee.slot - (at + 1))
		return nil
	}
	if idx, ok := st.cfg.platform.Helpers[ref]; ok {
		ins.Src = asm.R0
		ins.Constant = int64(idx)
		return nil
	}
	if st.cfg.machine != nil {
		if idx, ok := st.cfg.machine.Helpers[ref]; ok {
			ins.Src = asm.R0
			ins.Constant = int64(idx)
			return nil
		}
	}
	return &errors.UnresolvedImportError{Module: f.obj, Name: ref, From: f.fn.Name}
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) / align * align
}
