package ports

import (
	"context"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// Memory is a bounds-checked view of an instance's memory. Offsets and
// lengths outside the memory return an *errors.OutOfRangeError.
type Memory interface {
	// Size returns the memory size in bytes.
	Size() uint32

	// Read copies length bytes starting at offset.
	Read(offset, length uint32) ([]byte, error)

	// Write copies data to offset.
	Write(offset uint32, data []byte) error

	// ReadUint reads a little-endian unsigned integer of width 1, 2, 4 or 8 bytes.
	ReadUint(offset uint32, width int) (uint64, error)

	// WriteUint writes a little-endian unsigned integer of width 1, 2, 4 or 8 bytes.
	WriteUint(offset uint32, width int, value uint64) error
}

// HostFunctionTable is the resolved, indexable set of host functions.
// Implementations are immutable and safe for concurrent use.
type HostFunctionTable interface {
	// Names returns the sorted function names.
	Names() []string

	// Lookup resolves a name to its helper index and signature.
	Lookup(name string) (index int32, sig entities.Signature, ok bool)

	// Describe resolves a helper index back to its name and signature.
	Describe(index int32) (name string, sig entities.Signature, ok bool)

	// Call invokes the function at index with guest memory and raw arguments.
	Call(ctx context.Context, mem Memory, index int32, args []uint64) (uint64, error)
}

// Engine compiles guest modules for one execution backend.
type Engine interface {
	// Kind returns the backend this engine runs.
	Kind() entities.Engine

	// Load validates and compiles a module. Imports the host function table
	// cannot satisfy fail here with *errors.UnresolvedImportError.
	Load(ctx context.Context, module *entities.Module) (Program, error)

	// Close releases engine resources.
	Close(ctx context.Context) error
}

// Program is a compiled module that can be instantiated many times.
type Program interface {
	// Exports returns the callable entry names.
	Exports() []string

	// Instantiate creates an isolated instance with its own memory.
	Instantiate(ctx context.Context, name string) (Instance, error)

	Close(ctx context.Context) error
}

// Instance is one isolated execution context of a program. Call is not safe
// for concurrent use; callers serialize invocations.
type Instance interface {
	// Call runs entry to completion, return or fault. Faults are returned as
	// *errors.TrapError; external stops as errors.ErrInterrupted.
	Call(ctx context.Context, entry string, args []uint64) (entities.Exit, error)

	// Memory returns the instance memory.
	Memory() Memory

	// Symbol resolves a data symbol to its address and size in bytes. A size of
	// zero means the engine does not know the size.
	Symbol(name string) (addr uint32, size uint32, ok bool)

	// Alloc reserves size bytes of guest memory for host-provided buffers.
	Alloc(ctx context.Context, size uint32) (uint32, error)

	// Closed reports whether the instance can no longer run calls, either
	// because it was closed or because its engine tore it down.
	Closed() bool

	Close(ctx context.Context) error
}
