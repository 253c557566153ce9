package wbpf

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

// deviceConfig holds configuration for a Device.
type deviceConfig struct {
	numPE     int
	memSize   uint32
	stackSize uint32
	budget    uint64
}

func defaultDeviceConfig() deviceConfig {
	return deviceConfig{
		numPE:     1,
		memSize:   entities.DefaultMemorySize,
		stackSize: entities.DefaultStackSize,
		budget:    entities.DefaultInstructionBudget,
	}
}

// DeviceOption configures a Device.
type DeviceOption func(*deviceConfig)

// WithNumPE sets the number of processing elements.
func WithNumPE(n int) DeviceOption {
	return func(c *deviceConfig) {
		if n > 0 {
			c.numPE = n
		}
	}
}

// WithMemorySize sets the data memory size in bytes.
func WithMemorySize(size uint32) DeviceOption {
	return func(c *deviceConfig) {
		c.memSize = size
	}
}

// WithStackSize sets the stack region reserved at the top of data memory.
func WithStackSize(size uint32) DeviceOption {
	return func(c *deviceConfig) {
		c.stackSize = size
	}
}

// WithInstructionBudget caps the instructions retired per run. Zero disables the cap.
func WithInstructionBudget(n uint64) DeviceOption {
	return func(c *deviceConfig) {
		c.budget = n
	}
}

// Device is a software wBPF device: a set of processing elements sharing
// one data memory.
type Device struct {
	dm  *DataMemory
	pes []*ProcessingElement
	cfg deviceConfig
}

// RunResult is the outcome of one run on a processing element.
type RunResult struct {
	Exception entities.ExceptionState
	Perf      entities.PerfCounters
	Fault     error
}

// NewDevice creates a device whose helper calls dispatch through table.
func NewDevice(table ports.HostFunctionTable, opts ...DeviceOption) (*Device, error) {
	cfg := defaultDeviceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.stackSize < 2*FrameSize || cfg.stackSize >= cfg.memSize {
		return nil, fmt.Errorf("stack size %d invalid for %d bytes of data memory", cfg.stackSize, cfg.memSize)
	}

	d := &Device{dm: NewDataMemory(cfg.memSize), cfg: cfg}
	for i := 0; i < cfg.numPE; i++ {
		d.pes = append(d.pes, newProcessingElement(i, d.dm, table, cfg.budget, cfg.stackSize))
	}
	Logger().Debug("device created",
		zap.Int("pes", cfg.numPE),
		zap.Uint32("dm_size", d.dm.Size()),
		zap.Uint32("stack_size", cfg.stackSize),
	)
	return d, nil
}

// NumPE returns the number of processing elements.
func (d *Device) NumPE() int {
	return len(d.pes)
}

// DataMemory returns the shared data memory.
func (d *Device) DataMemory() *DataMemory {
	return d.dm
}

// StackBase is the lowest address of the stack region.
func (d *Device) StackBase() uint32 {
	return d.dm.Size() - d.cfg.stackSize
}

// PE returns the processing element at index.
func (d *Device) PE(index int) (*ProcessingElement, error) {
	if index < 0 || index >= len(d.pes) {
		return nil, fmt.Errorf("pe %d out of range (device has %d)", index, len(d.pes))
	}
	return d.pes[index], nil
}

// LoadCode installs decoded code on a stopped processing element.
func (d *Device) LoadCode(index int, prog *Program) error {
	pe, err := d.PE(index)
	if err != nil {
		return err
	}
	if pe.Running() {
		return fmt.Errorf("pe %d: cannot load code while running", index)
	}
	pe.prog = prog
	return nil
}

// Start begins execution at the byte offset pc. Registers R1 to R5 are taken
// from args; R10 points at the top of data memory.
func (d *Device) Start(ctx context.Context, index int, pc uint32, args []uint64) error {
	pe, err := d.PE(index)
	if err != nil {
		return err
	}
	if pc%isa.SlotSize != 0 {
		return fmt.Errorf("pc %#x is not slot aligned", pc)
	}
	if len(args) > 5 {
		return fmt.Errorf("too many arguments: %d", len(args))
	}
	var regs [NumRegisters]uint64
	copy(regs[1:], args)
	regs[10] = uint64(d.dm.Size())
	return pe.start(ctx, int(pc/isa.SlotSize), regs)
}

// StartState begins execution from a full register snapshot. Registers
// beyond the snapshot are zero and R10 defaults to the top of memory.
func (d *Device) StartState(ctx context.Context, index int, pc uint32, st entities.MachineState) error {
	pe, err := d.PE(index)
	if err != nil {
		return err
	}
	if len(st.Registers) > NumRegisters {
		return fmt.Errorf("register snapshot has %d registers, max %d", len(st.Registers), NumRegisters)
	}
	var regs [NumRegisters]uint64
	for i, r := range st.Registers {
		regs[i] = uint64(r)
	}
	if len(st.Registers) < NumRegisters {
		regs[10] = uint64(d.dm.Size())
	}
	return pe.start(ctx, int(pc/isa.SlotSize), regs)
}

// Wait blocks until the processing element halts or ctx is done.
func (d *Device) Wait(ctx context.Context, index int) error {
	pe, err := d.PE(index)
	if err != nil {
		return err
	}
	return pe.wait(ctx)
}

// Stop requests a processing element to halt.
func (d *Device) Stop(index int) {
	if pe, err := d.PE(index); err == nil {
		pe.Stop()
	}
}

// StopAndWait stops a processing element and waits for it to halt.
func (d *Device) StopAndWait(ctx context.Context, index int) error {
	pe, err := d.PE(index)
	if err != nil {
		return err
	}
	pe.Stop()
	return pe.wait(ctx)
}

// Run starts a processing element at pc, waits for it to halt and reports
// the exception state with the counters accumulated by this run. Cancelling
// ctx stops the element, which then halts as interrupted.
func (d *Device) Run(ctx context.Context, index int, pc uint32, args []uint64) (RunResult, error) {
	pe, err := d.PE(index)
	if err != nil {
		return RunResult{}, err
	}
	before := pe.PerfCounters()
	if err := d.Start(ctx, index, pc, args); err != nil {
		return RunResult{}, err
	}
	stop := context.AfterFunc(ctx, pe.Stop)
	defer stop()
	if err := pe.wait(context.Background()); err != nil {
		return RunResult{}, err
	}
	res := RunResult{
		Exception: pe.ExceptionState(),
		Perf:      pe.PerfCounters().Sub(before),
		Fault:     pe.Fault(),
	}
	Logger().Debug("pe halted",
		zap.Int("pe", index),
		zap.Stringer("code", res.Exception.Code),
		zap.Uint32("pc", res.Exception.PC),
		zap.Uint64("commits", res.Perf.Commits),
	)
	return res, nil
}

// ExceptionState returns the last exception state of a processing element.
func (d *Device) ExceptionState(index int) (entities.ExceptionState, error) {
	pe, err := d.PE(index)
	if err != nil {
		return entities.ExceptionState{}, err
	}
	return pe.ExceptionState(), nil
}

// PerfCounters returns the cumulative counters of a processing element.
func (d *Device) PerfCounters(index int) (entities.PerfCounters, error) {
	pe, err := d.PE(index)
	if err != nil {
		return entities.PerfCounters{}, err
	}
	return pe.PerfCounters(), nil
}
