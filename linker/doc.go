// Package linker builds wBPF images from functions already expressed as
// eBPF instructions.
//
// Symbols are global or local to their object; local symbols are named
// "object:symbol". Calls are resolved to functions first, then to host
// platform helpers, then to processing element helpers. A 64-bit
// immediate load that references a data symbol receives its absolute
// address in data memory. With WithDCERoots only functions reachable from
// the roots are emitted.
package linker
