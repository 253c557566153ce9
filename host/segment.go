package host

import (
	"fmt"

	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// DefaultSegmentWidth is the element width of data symbols that the
// manifest does not describe.
const DefaultSegmentWidth = 8

// Segment is a fixed-length array of fixed-width unsigned integers in an
// instance's memory. Indices outside [0, Len) are rejected with
// *errors.OutOfRangeError. A Segment must not be used while an invocation
// is running on its instance.
type Segment struct {
	name   string
	mem    ports.Memory
	addr   uint32
	width  int
	length int
}

// Segment resolves a data symbol. The manifest's data entry gives the
// width and length; without one the width defaults to DefaultSegmentWidth
// and the length is derived from the symbol size.
func (i *Instance) Segment(name string) (*Segment, error) {
	if i.closed.Load() {
		return nil, errors.ErrInstanceClosed
	}
	addr, size, ok := i.inst.Symbol(name)
	if !ok {
		return nil, &errors.ExportNotFoundError{Module: i.module.Name(), Name: name}
	}

	width, length := DefaultSegmentWidth, 0
	if m := i.module.Manifest(); m != nil {
		if spec, ok := m.Segment(name); ok {
			if spec.Width > 0 {
				width = spec.Width
			}
			length = spec.Length
		}
	}
	if length == 0 {
		if size == 0 {
			return nil, fmt.Errorf("segment %s: length unknown, declare it in the manifest", name)
		}
		length = int(size) / width
	}

	mem := i.inst.Memory()
	if end := uint64(addr) + uint64(length*width); end > uint64(mem.Size()) {
		return nil, &errors.OutOfRangeError{
			Object: "segment " + name,
			Index:  uint64(addr),
			Count:  uint64(length * width),
			Limit:  uint64(mem.Size()),
		}
	}
	return &Segment{name: name, mem: mem, addr: addr, width: width, length: length}, nil
}

// Name returns the data symbol name.
func (s *Segment) Name() string { return s.name }

// Addr returns the address of the first element.
func (s *Segment) Addr() uint32 { return s.addr }

// Len returns the number of elements.
func (s *Segment) Len() int { return s.length }

// Width returns the element width in bytes.
func (s *Segment) Width() int { return s.width }

func (s *Segment) offset(index int) (uint32, error) {
	if index < 0 || index >= s.length {
		return 0, &errors.OutOfRangeError{
			Object: "segment " + s.name,
			Index:  uint64(int64(index)),
			Limit:  uint64(s.length),
		}
	}
	return s.addr + uint32(index*s.width), nil
}

// Get returns the element at index.
func (s *Segment) Get(index int) (uint64, error) {
	off, err := s.offset(index)
	if err != nil {
		return 0, err
	}
	return s.mem.ReadUint(off, s.width)
}

// Set stores value at index. Values that do not fit the element width are
// rejected.
func (s *Segment) Set(index int, value uint64) error {
	off, err := s.offset(index)
	if err != nil {
		return err
	}
	if s.width < 8 {
		if limit := uint64(1)<<(8*s.width) - 1; value > limit {
			return &errors.OutOfRangeError{Object: "segment " + s.name + " value", Index: value, Limit: limit}
		}
	}
	return s.mem.WriteUint(off, s.width, value)
}

// Snapshot returns a copy of every element.
func (s *Segment) Snapshot() ([]uint64, error) {
	out := make([]uint64, s.length)
	for n := range out {
		v, err := s.Get(n)
		if err != nil {
			return nil, err
		}
		out[n] = v
	}
	return out, nil
}
