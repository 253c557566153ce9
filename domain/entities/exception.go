package entities

import "fmt"

// ExceptionCode is the status word a processing element reports. Bit 31 is
// set once the element has halted; the low bits carry the cause.
type ExceptionCode uint32

// ExceptionHalted is set in every code reported by a halted element.
const ExceptionHalted ExceptionCode = 0x80000000

// Exception causes.
const (
	CauseNone               ExceptionCode = 0
	CauseReturned           ExceptionCode = 1
	CauseCompleted          ExceptionCode = 2
	CauseDivisionByZero     ExceptionCode = 3
	CauseMemoryFault        ExceptionCode = 4
	CauseIllegalInstruction ExceptionCode = 5
	CauseStackOverflow      ExceptionCode = 6
	CauseInterrupted        ExceptionCode = 7
	CauseUnresolvedHelper   ExceptionCode = 8
	CauseHostFault          ExceptionCode = 9
	CauseBudgetExhausted    ExceptionCode = 10
)

// ExceptionStopped is reported by an element interrupted by a stop request.
const ExceptionStopped = ExceptionHalted | CauseInterrupted

// Halted reports whether the element has stopped executing.
func (c ExceptionCode) Halted() bool {
	return c&ExceptionHalted != 0
}

// Cause strips the halted flag.
func (c ExceptionCode) Cause() ExceptionCode {
	return c &^ ExceptionHalted
}

func (c ExceptionCode) String() string {
	var name string
	switch c.Cause() {
	case CauseNone:
		name = "none"
	case CauseReturned:
		name = "returned"
	case CauseCompleted:
		name = "completed"
	case CauseDivisionByZero:
		name = "division_by_zero"
	case CauseMemoryFault:
		name = "memory_fault"
	case CauseIllegalInstruction:
		name = "illegal_instruction"
	case CauseStackOverflow:
		name = "stack_overflow"
	case CauseInterrupted:
		name = "interrupted"
	case CauseUnresolvedHelper:
		name = "unresolved_helper"
	case CauseHostFault:
		name = "host_fault"
	case CauseBudgetExhausted:
		name = "budget_exhausted"
	default:
		name = fmt.Sprintf("cause_%d", c.Cause())
	}
	if c.Halted() {
		return "halted:" + name
	}
	return name
}

// ExceptionState is the state of a processing element after it halts.
// Data holds R0 for normal exits and the faulting value otherwise.
type ExceptionState struct {
	PC   uint32        `json:"pc"`
	Code ExceptionCode `json:"code"`
	Data uint64        `json:"data"`
}

// PerfCounters are the cumulative performance counters of an element.
type PerfCounters struct {
	Cycles  uint64 `json:"cycles"`
	Commits uint64 `json:"commits"`
}

// Sub returns the counters accumulated since start.
func (p PerfCounters) Sub(start PerfCounters) PerfCounters {
	return PerfCounters{Cycles: p.Cycles - start.Cycles, Commits: p.Commits - start.Commits}
}

// MachineState is an initial register file together with the entry to run.
type MachineState struct {
	Registers  []int64 `json:"registers" yaml:"registers" validate:"max=11"`
	EntryPoint string  `json:"entryPoint" yaml:"entry_point" validate:"required"`
}
