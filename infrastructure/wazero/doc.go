// Package wazero runs WebAssembly guests behind ports.Engine.
//
// The host function table is exported as a host module (default "env").
// Guests import host functions by name; Load rejects imports the table
// does not provide or provides with another signature.
//
// # Completion
//
// The completion primitive returns errors.ErrGuestHalted. The host module
// wrapper panics with it, wazero unwinds the guest and wraps the value, and
// Call reports the exit as completed.
//
// # Memory and data symbols
//
// Every instance is a fresh module instantiation with its own linear
// memory. Data symbols are exported i32 globals holding an address; host
// buffers come from the guest's "allocate" export.
//
// # Cancellation
//
// The runtime is created with WithCloseOnContextDone, so an expired or
// cancelled call context stops the guest and closes the instance. Call
// returns errors.ErrInterrupted in that case.
package wazero
