// Package wbpf is a software model of the wBPF device: processing elements
// executing eBPF machine code against a shared word-addressed data memory.
//
// Each element reports an exception state when it halts, with bit 31 set
// and the cause in the low bits, and keeps cycle and commit counters.
// Helper calls (call imm with a zero source register) dispatch through a
// ports.HostFunctionTable; bpf-to-bpf calls push a frame that preserves
// R6 to R9 and moves the frame pointer down by FrameSize bytes.
//
// Engine adapts devices to ports.Engine so linked images run behind the
// same interface as WebAssembly guests.
package wbpf
