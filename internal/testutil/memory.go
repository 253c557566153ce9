package testutil

import (
	"encoding/binary"
	"fmt"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// Memory is a flat byte slice implementing ports.Memory.
type Memory struct {
	Bytes []byte
}

var _ ports.Memory = (*Memory)(nil)

// NewMemory returns a zeroed memory of size bytes.
func NewMemory(size int) *Memory {
	return &Memory{Bytes: make([]byte, size)}
}

// Size implements ports.Memory.
func (m *Memory) Size() uint32 { return uint32(len(m.Bytes)) }

func (m *Memory) check(off, n uint32) error {
	if uint64(off)+uint64(n) > uint64(len(m.Bytes)) {
		return &errors.OutOfRangeError{Object: "memory", Index: uint64(off), Count: uint64(n), Limit: uint64(len(m.Bytes))}
	}
	return nil
}

// Read implements ports.Memory.
func (m *Memory) Read(off, n uint32) ([]byte, error) {
	if err := m.check(off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, m.Bytes[off:])
	return out, nil
}

// Write implements ports.Memory.
func (m *Memory) Write(off uint32, data []byte) error {
	if err := m.check(off, uint32(len(data))); err != nil {
		return err
	}
	copy(m.Bytes[off:], data)
	return nil
}

// ReadUint implements ports.Memory.
func (m *Memory) ReadUint(off uint32, width int) (uint64, error) {
	if err := checkWidth(width); err != nil {
		return 0, err
	}
	b, err := m.Read(off, uint32(width))
	if err != nil {
		return 0, err
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint implements ports.Memory.
func (m *Memory) WriteUint(off uint32, width int, v uint64) error {
	if err := checkWidth(width); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(off, buf[:width])
}

func checkWidth(width int) error {
	switch width {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("unsupported access width %d", width)
}

// PutCString writes s followed by a NUL at off.
func (m *Memory) PutCString(off uint32, s string) {
	copy(m.Bytes[off:], s)
	m.Bytes[int(off)+len(s)] = 0
}
