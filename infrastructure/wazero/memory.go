package wazero

import (
	"github.com/tetratelabs/wazero/api"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// memory is a bounds-checked ports.Memory view of a wasm linear memory. A
// module without memory has size zero.
type memory struct {
	mem api.Memory
}

var _ ports.Memory = memory{}

func newMemory(mem api.Memory) memory {
	return memory{mem: mem}
}

// moduleMemory returns the exported linear memory of mod, or a nil
// interface when it has none. Module.Memory wraps a nil instance in a
// non-nil api.Memory for memoryless modules, so it cannot be compared to
// nil directly.
func moduleMemory(mod api.Module) api.Memory {
	if len(mod.ExportedMemoryDefinitions()) == 0 {
		return nil
	}
	return mod.Memory()
}

func (m memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m memory) rangeError(off, n uint32) error {
	return &errors.OutOfRangeError{Object: "wasm memory", Index: uint64(off), Count: uint64(n), Limit: uint64(m.Size())}
}

// Read returns a copy; wazero views are invalidated by memory growth.
func (m memory) Read(offset, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, m.rangeError(offset, length)
	}
	view, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, m.rangeError(offset, length)
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

func (m memory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return m.rangeError(offset, uint32(len(data)))
	}
	return nil
}

func (m memory) ReadUint(offset uint32, width int) (uint64, error) {
	if m.mem == nil {
		return 0, m.rangeError(offset, uint32(width))
	}
	var (
		v  uint64
		ok bool
	)
	switch width {
	case 1:
		var b byte
		b, ok = m.mem.ReadByte(offset)
		v = uint64(b)
	case 2:
		var h uint16
		h, ok = m.mem.ReadUint16Le(offset)
		v = uint64(h)
	case 4:
		var w uint32
		w, ok = m.mem.ReadUint32Le(offset)
		v = uint64(w)
	case 8:
		v, ok = m.mem.ReadUint64Le(offset)
	default:
		return 0, &errors.OutOfRangeError{Object: "access width", Index: uint64(width), Limit: 8}
	}
	if !ok {
		return 0, m.rangeError(offset, uint32(width))
	}
	return v, nil
}

func (m memory) WriteUint(offset uint32, width int, value uint64) error {
	if m.mem == nil {
		return m.rangeError(offset, uint32(width))
	}
	var ok bool
	switch width {
	case 1:
		ok = m.mem.WriteByte(offset, byte(value))
	case 2:
		ok = m.mem.WriteUint16Le(offset, uint16(value))
	case 4:
		ok = m.mem.WriteUint32Le(offset, uint32(value))
	case 8:
		ok = m.mem.WriteUint64Le(offset, value)
	default:
		return &errors.OutOfRangeError{Object: "access width", Index: uint64(width), Limit: 8}
	}
	if !ok {
		return m.rangeError(offset, uint32(width))
	}
	return nil
}
