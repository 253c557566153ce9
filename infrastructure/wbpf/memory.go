package wbpf

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

const wordSize = 4

// DataMemory is the word-addressed data memory shared by the processing
// elements of a device. Byte-granular accesses are split into an unaligned
// head, whole aligned words and an unaligned tail.
type DataMemory struct {
	mu    sync.Mutex
	words []uint32
	size  uint32
}

var _ ports.Memory = (*DataMemory)(nil)

// NewDataMemory allocates size bytes of zeroed data memory. The size is
// rounded up to a whole word.
func NewDataMemory(size uint32) *DataMemory {
	n := (size + wordSize - 1) / wordSize
	return &DataMemory{words: make([]uint32, n), size: n * wordSize}
}

// Size implements ports.Memory.
func (m *DataMemory) Size() uint32 {
	return m.size
}

func (m *DataMemory) inRange(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(m.size)
}

func (m *DataMemory) rangeError(off, n uint32) error {
	return &errors.OutOfRangeError{Object: "data memory", Index: uint64(off), Count: uint64(n), Limit: uint64(m.size)}
}

// split divides [off, off+n) into leading bytes up to a word boundary,
// whole words and trailing bytes.
func split(off, n uint32) (head, words, tail uint32) {
	head = (wordSize - off%wordSize) % wordSize
	if head > n {
		head = n
	}
	words = (n - head) / wordSize
	tail = n - head - words*wordSize
	return head, words, tail
}

func (m *DataMemory) byteAt(addr uint32) byte {
	return byte(m.words[addr/wordSize] >> (8 * (addr % wordSize)))
}

func (m *DataMemory) setByte(addr uint32, b byte) {
	shift := 8 * (addr % wordSize)
	w := &m.words[addr/wordSize]
	*w = *w&^(0xff<<shift) | uint32(b)<<shift
}

func (m *DataMemory) copyOut(off uint32, out []byte) {
	head, words, _ := split(off, uint32(len(out)))
	i := uint32(0)
	for ; i < head; i++ {
		out[i] = m.byteAt(off + i)
	}
	for w := uint32(0); w < words; w++ {
		binary.LittleEndian.PutUint32(out[i:], m.words[(off+i)/wordSize])
		i += wordSize
	}
	for ; i < uint32(len(out)); i++ {
		out[i] = m.byteAt(off + i)
	}
}

func (m *DataMemory) copyIn(off uint32, data []byte) {
	head, words, _ := split(off, uint32(len(data)))
	i := uint32(0)
	for ; i < head; i++ {
		m.setByte(off+i, data[i])
	}
	for w := uint32(0); w < words; w++ {
		m.words[(off+i)/wordSize] = binary.LittleEndian.Uint32(data[i:])
		i += wordSize
	}
	for ; i < uint32(len(data)); i++ {
		m.setByte(off+i, data[i])
	}
}

// Read implements ports.Memory.
func (m *DataMemory) Read(off, n uint32) ([]byte, error) {
	if !m.inRange(off, n) {
		return nil, m.rangeError(off, n)
	}
	out := make([]byte, n)
	m.mu.Lock()
	m.copyOut(off, out)
	m.mu.Unlock()
	return out, nil
}

// Write implements ports.Memory.
func (m *DataMemory) Write(off uint32, data []byte) error {
	n := uint32(len(data))
	if uint64(len(data)) > uint64(m.size) || !m.inRange(off, n) {
		return m.rangeError(off, n)
	}
	m.mu.Lock()
	m.copyIn(off, data)
	m.mu.Unlock()
	return nil
}

// ReadUint implements ports.Memory.
func (m *DataMemory) ReadUint(off uint32, width int) (uint64, error) {
	if !validWidth(width) {
		return 0, fmt.Errorf("unsupported access width %d", width)
	}
	v, ok := m.load(off, width)
	if !ok {
		return 0, m.rangeError(off, uint32(width))
	}
	return v, nil
}

// WriteUint implements ports.Memory.
func (m *DataMemory) WriteUint(off uint32, width int, v uint64) error {
	if !validWidth(width) {
		return fmt.Errorf("unsupported access width %d", width)
	}
	if !m.store(off, width, v) {
		return m.rangeError(off, uint32(width))
	}
	return nil
}

// load reads a little-endian value for the processing element.
func (m *DataMemory) load(addr uint32, width int) (uint64, bool) {
	if !m.inRange(addr, uint32(width)) {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if width == wordSize && addr%wordSize == 0 {
		return uint64(m.words[addr/wordSize]), true
	}
	var buf [8]byte
	m.copyOut(addr, buf[:width])
	return binary.LittleEndian.Uint64(buf[:]), true
}

// store writes a little-endian value for the processing element.
func (m *DataMemory) store(addr uint32, width int, v uint64) bool {
	if !m.inRange(addr, uint32(width)) {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if width == wordSize && addr%wordSize == 0 {
		m.words[addr/wordSize] = uint32(v)
		return true
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	m.copyIn(addr, buf[:width])
	return true
}

// Snapshot copies the whole memory.
func (m *DataMemory) Snapshot() []byte {
	out := make([]byte, m.size)
	m.mu.Lock()
	m.copyOut(0, out)
	m.mu.Unlock()
	return out
}

// Reset zeroes the memory.
func (m *DataMemory) Reset() {
	m.mu.Lock()
	clear(m.words)
	m.mu.Unlock()
}

func validWidth(width int) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	}
	return false
}
