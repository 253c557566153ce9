package linker

import "github.com/cilium/ebpf/asm"

// DefaultDataAlign is the alignment of data objects without an explicit one.
const DefaultDataAlign = 8

// Object is a compilation unit: functions and data sections sharing a
// namespace for local symbols.
type Object struct {
	Name      string
	Functions []Function
	Data      []Data
}

// Function is a sequence of eBPF instructions. Jumps reference labels set
// with WithSymbol inside the same function; calls reference functions or
// helpers by name; 64-bit immediate loads may reference data symbols.
type Function struct {
	Name   string
	Insns  asm.Instructions
	Global bool
}

// Data is an initialized data object.
type Data struct {
	Name   string
	Bytes  []byte
	Align  uint32
	Global bool
}

// symbolName returns the link-time name of a symbol: its own name when
// global, "object:name" otherwise.
func symbolName(obj, name string, global bool) string {
	if global {
		return name
	}
	return obj + ":" + name
}
