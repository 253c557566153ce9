package wbpf

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf/asm"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

const (
	// NumRegisters is the size of the register file, R0 to R10.
	NumRegisters = 11

	// FrameSize is the stack space reserved per call frame.
	FrameSize = 512
)

// slot is one decoded instruction slot. The second half of a 64-bit
// immediate load is not executable.
type slot struct {
	ins   asm.Instruction
	valid bool
}

// Program is machine code decoded into executable slots.
type Program struct {
	slots []slot
}

// DecodeProgram decodes machine code for execution.
func DecodeProgram(code []byte) (*Program, error) {
	if len(code)%isa.SlotSize != 0 {
		return nil, fmt.Errorf("code size %d is not a multiple of %d", len(code), isa.SlotSize)
	}
	p := &Program{slots: make([]slot, len(code)/isa.SlotSize)}
	for off := 0; off < len(code); {
		ins, n, err := isa.DecodeAt(code, off)
		if err != nil {
			return nil, err
		}
		p.slots[off/isa.SlotSize] = slot{ins: ins, valid: true}
		off += n * isa.SlotSize
	}
	return p, nil
}

// Len returns the number of slots.
func (p *Program) Len() int {
	return len(p.slots)
}

// HelperCalls returns the slot index of every helper call, keyed by slot.
func (p *Program) HelperCalls() map[int]int32 {
	calls := make(map[int]int32)
	for i, s := range p.slots {
		if s.valid && isHelperCall(s.ins) {
			calls[i] = int32(s.ins.Constant)
		}
	}
	return calls
}

func isHelperCall(ins asm.Instruction) bool {
	return ins.OpCode.Class() == asm.JumpClass && ins.OpCode.JumpOp() == asm.Call && ins.Src != asm.PseudoCall
}

type frame struct {
	ret   int
	saved [4]uint64
	fp    uint64
}

// ProcessingElement executes one program at a time against the data memory
// of its device.
type ProcessingElement struct {
	dm    *DataMemory
	table ports.HostFunctionTable
	prog  *Program

	mu        sync.Mutex
	running   atomic.Bool
	stop      atomic.Bool
	done      chan struct{}
	exception entities.ExceptionState
	perf      entities.PerfCounters
	fault     error

	index      int
	budget     uint64
	stackLimit uint64
}

func newProcessingElement(index int, dm *DataMemory, table ports.HostFunctionTable, budget uint64, stackSize uint32) *ProcessingElement {
	return &ProcessingElement{
		index:      index,
		dm:         dm,
		table:      table,
		budget:     budget,
		stackLimit: uint64(dm.Size()) - uint64(stackSize),
		exception:  entities.ExceptionState{Code: entities.ExceptionStopped},
	}
}

// Index returns the element's position on its device.
func (p *ProcessingElement) Index() int {
	return p.index
}

// Running reports whether the element is executing.
func (p *ProcessingElement) Running() bool {
	return p.running.Load()
}

// ExceptionState returns the state recorded by the last halt.
func (p *ProcessingElement) ExceptionState() entities.ExceptionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exception
}

// PerfCounters returns the cumulative performance counters.
func (p *ProcessingElement) PerfCounters() entities.PerfCounters {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perf
}

// Fault returns the error behind the last host fault, if any.
func (p *ProcessingElement) Fault() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fault
}

// Stop requests the element to halt at the next instruction.
func (p *ProcessingElement) Stop() {
	p.stop.Store(true)
}

// start launches execution at the given slot with an initial register file.
func (p *ProcessingElement) start(ctx context.Context, pc int, regs [NumRegisters]uint64) error {
	if p.prog == nil {
		return fmt.Errorf("pe %d: no code loaded", p.index)
	}
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pe %d: already running", p.index)
	}
	p.stop.Store(false)
	done := make(chan struct{})
	p.mu.Lock()
	p.done = done
	p.fault = nil
	p.exception = entities.ExceptionState{}
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer p.running.Store(false)
		m := &machine{pe: p, ctx: ctx, regs: regs, pc: pc}
		m.run()
		p.mu.Lock()
		p.exception = m.exception
		p.fault = m.fault
		p.perf.Cycles += m.cycles
		p.perf.Commits += m.commits
		p.mu.Unlock()
	}()
	return nil
}

// wait blocks until the current run halts or ctx is done.
func (p *ProcessingElement) wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// machine is the state of a single run.
type machine struct {
	pe        *ProcessingElement
	ctx       context.Context
	fault     error
	frames    []frame
	exception entities.ExceptionState
	regs      [NumRegisters]uint64
	pc        int
	cycles    uint64
	commits   uint64
}

func (m *machine) halt(cause entities.ExceptionCode, data uint64) {
	m.exception = entities.ExceptionState{
		PC:   uint32(m.pc * isa.SlotSize),
		Code: entities.ExceptionHalted | cause,
		Data: data,
	}
}

func (m *machine) run() {
	slots := m.pe.prog.slots
	for {
		if m.pe.stop.Load() {
			m.halt(entities.CauseInterrupted, 0)
			return
		}
		if m.pe.budget != 0 && m.commits >= m.pe.budget {
			m.halt(entities.CauseBudgetExhausted, m.commits)
			return
		}
		if m.pc < 0 || m.pc >= len(slots) || !slots[m.pc].valid {
			m.halt(entities.CauseIllegalInstruction, 0)
			return
		}
		ins := slots[m.pc].ins
		m.commits++
		m.cycles += cost(ins)
		if !m.step(ins) {
			return
		}
	}
}

func cost(ins asm.Instruction) uint64 {
	switch ins.OpCode.Class() {
	case asm.ALUClass, asm.ALU64Class:
		switch ins.OpCode.ALUOp() {
		case asm.Mul:
			return 3
		case asm.Div, asm.Mod:
			return 8
		}
	case asm.LdXClass, asm.StClass, asm.StXClass:
		return 2
	case asm.JumpClass:
		if ins.OpCode.JumpOp() == asm.Call {
			return 4
		}
	}
	return 1
}

// step executes ins and reports whether execution continues.
func (m *machine) step(ins asm.Instruction) bool {
	op := ins.OpCode
	switch op.Class() {
	case asm.ALU64Class, asm.ALUClass:
		return m.alu(ins)
	case asm.JumpClass, asm.Jump32Class:
		return m.jump(ins)
	case asm.LdClass:
		if !isa.IsDWordLoad(op) || !m.writable(ins.Dst) {
			m.halt(entities.CauseIllegalInstruction, 0)
			return false
		}
		m.regs[ins.Dst] = uint64(ins.Constant)
		m.pc += 2
		return true
	case asm.LdXClass:
		if op.Mode() != asm.MemMode || !m.writable(ins.Dst) || ins.Src > asm.R10 {
			m.halt(entities.CauseIllegalInstruction, 0)
			return false
		}
		addr := m.regs[ins.Src] + uint64(int64(ins.Offset))
		v, ok := m.load(addr, op.Size())
		if !ok {
			m.halt(entities.CauseMemoryFault, addr)
			return false
		}
		m.regs[ins.Dst] = v
	case asm.StClass, asm.StXClass:
		if op.Mode() != asm.MemMode || ins.Dst > asm.R10 || ins.Src > asm.R10 {
			m.halt(entities.CauseIllegalInstruction, 0)
			return false
		}
		v := uint64(ins.Constant)
		if op.Class() == asm.StXClass {
			v = m.regs[ins.Src]
		}
		addr := m.regs[ins.Dst] + uint64(int64(ins.Offset))
		if !m.store(addr, op.Size(), v) {
			m.halt(entities.CauseMemoryFault, addr)
			return false
		}
	default:
		m.halt(entities.CauseIllegalInstruction, 0)
		return false
	}
	m.pc++
	return true
}

func (m *machine) writable(r asm.Register) bool {
	return r < asm.R10
}

func (m *machine) load(addr uint64, size asm.Size) (uint64, bool) {
	width := size.Sizeof()
	if width <= 0 || addr > uint64(^uint32(0)) {
		return 0, false
	}
	return m.pe.dm.load(uint32(addr), width)
}

func (m *machine) store(addr uint64, size asm.Size, v uint64) bool {
	width := size.Sizeof()
	if width <= 0 || addr > uint64(^uint32(0)) {
		return false
	}
	return m.pe.dm.store(uint32(addr), width, v)
}

func (m *machine) alu(ins asm.Instruction) bool {
	op := ins.OpCode
	// A non-zero offset selects signed div/mod or sign-extending mov, which
	// the element does not implement.
	if !m.writable(ins.Dst) || ins.Src > asm.R10 || ins.Offset != 0 {
		m.halt(entities.CauseIllegalInstruction, 0)
		return false
	}
	is32 := op.Class() == asm.ALUClass
	src := uint64(ins.Constant)
	if op.Source() == asm.RegSource {
		src = m.regs[ins.Src]
	}
	dst := m.regs[ins.Dst]
	if is32 {
		src, dst = uint64(uint32(src)), uint64(uint32(dst))
	}

	var res uint64
	switch op.ALUOp() {
	case asm.Add:
		res = dst + src
	case asm.Sub:
		res = dst - src
	case asm.Mul:
		res = dst * src
	case asm.Div, asm.Mod:
		if src == 0 {
			m.halt(entities.CauseDivisionByZero, dst)
			return false
		}
		if op.ALUOp() == asm.Div {
			res = dst / src
		} else {
			res = dst % src
		}
	case asm.Or:
		res = dst | src
	case asm.And:
		res = dst & src
	case asm.Xor:
		res = dst ^ src
	case asm.LSh:
		res = dst << shiftAmount(src, is32)
	case asm.RSh:
		res = dst >> shiftAmount(src, is32)
	case asm.ArSh:
		if is32 {
			res = uint64(int32(dst) >> shiftAmount(src, true))
		} else {
			res = uint64(int64(dst) >> shiftAmount(src, false))
		}
	case asm.Neg:
		res = -dst
	case asm.Mov:
		res = src
	default:
		m.halt(entities.CauseIllegalInstruction, 0)
		return false
	}
	if is32 {
		res = uint64(uint32(res))
	}
	m.regs[ins.Dst] = res
	m.pc++
	return true
}

func shiftAmount(v uint64, is32 bool) uint64 {
	if is32 {
		return v & 31
	}
	return v & 63
}

func (m *machine) jump(ins asm.Instruction) bool {
	op := ins.OpCode
	switch op.JumpOp() {
	case asm.Exit:
		return m.exit()
	case asm.Call:
		if ins.Src == asm.PseudoCall {
			return m.localCall(ins)
		}
		return m.helperCall(ins)
	case asm.Ja:
		m.pc += int(ins.Offset) + 1
		return true
	}

	if ins.Dst > asm.R10 || ins.Src > asm.R10 {
		m.halt(entities.CauseIllegalInstruction, 0)
		return false
	}
	is32 := op.Class() == asm.Jump32Class
	a := m.regs[ins.Dst]
	b := uint64(ins.Constant)
	if op.Source() == asm.RegSource {
		b = m.regs[ins.Src]
	}
	if is32 {
		a, b = uint64(uint32(a)), uint64(uint32(b))
	}
	sa, sb := int64(a), int64(b)
	if is32 {
		sa, sb = int64(int32(a)), int64(int32(b))
	}

	var taken bool
	switch op.JumpOp() {
	case asm.JEq:
		taken = a == b
	case asm.JNE:
		taken = a != b
	case asm.JGT:
		taken = a > b
	case asm.JGE:
		taken = a >= b
	case asm.JLT:
		taken = a < b
	case asm.JLE:
		taken = a <= b
	case asm.JSet:
		taken = a&b != 0
	case asm.JSGT:
		taken = sa > sb
	case asm.JSGE:
		taken = sa >= sb
	case asm.JSLT:
		taken = sa < sb
	case asm.JSLE:
		taken = sa <= sb
	default:
		m.halt(entities.CauseIllegalInstruction, 0)
		return false
	}
	if taken {
		m.pc += int(ins.Offset)
	}
	m.pc++
	return true
}

func (m *machine) localCall(ins asm.Instruction) bool {
	fp := m.regs[asm.R10]
	if fp < m.pe.stackLimit+2*FrameSize {
		m.halt(entities.CauseStackOverflow, uint64(len(m.frames)))
		return false
	}
	f := frame{ret: m.pc + 1, fp: fp}
	copy(f.saved[:], m.regs[asm.R6:asm.R10])
	m.frames = append(m.frames, f)
	m.regs[asm.R10] = fp - FrameSize
	m.pc += int(ins.Constant) + 1
	return true
}

func (m *machine) exit() bool {
	if len(m.frames) == 0 {
		m.halt(entities.CauseReturned, m.regs[asm.R0])
		return false
	}
	f := m.frames[len(m.frames)-1]
	m.frames = m.frames[:len(m.frames)-1]
	copy(m.regs[asm.R6:asm.R10], f.saved[:])
	m.regs[asm.R10] = f.fp
	m.pc = f.ret
	return true
}

func (m *machine) helperCall(ins asm.Instruction) bool {
	idx := int32(ins.Constant)
	table := m.pe.table
	if table == nil {
		m.halt(entities.CauseUnresolvedHelper, uint64(uint32(idx)))
		return false
	}
	_, sig, ok := table.Describe(idx)
	if !ok {
		m.halt(entities.CauseUnresolvedHelper, uint64(uint32(idx)))
		return false
	}
	args := make([]uint64, len(sig.Params))
	for i, t := range sig.Params {
		args[i] = t.Normalize(m.regs[asm.R1+asm.Register(i)])
	}
	ret, err := table.Call(m.ctx, m.pe.dm, idx, args)
	switch {
	case err == nil:
	case stdErrors.Is(err, errors.ErrGuestHalted):
		m.halt(entities.CauseCompleted, m.regs[asm.R0])
		return false
	default:
		m.fault = err
		m.halt(entities.CauseHostFault, uint64(uint32(idx)))
		return false
	}
	if len(sig.Results) > 0 {
		m.regs[asm.R0] = sig.Results[0].Normalize(ret)
	} else {
		m.regs[asm.R0] = 0
	}
	m.pc++
	return true
}
