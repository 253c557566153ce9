package hostfuncs

import (
	"bytes"
	"fmt"

	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// DefaultMaxNameLength bounds NUL-terminated names read from guest memory.
const DefaultMaxNameLength = 256

// DefaultMaxLogSize bounds a single guest log message (4KB).
const DefaultMaxLogSize = 4 * 1024

// BoundedBuffer is a bytes.Buffer wrapper that limits the size of written data.
// It implements io.Writer.
type BoundedBuffer struct {
	buffer    bytes.Buffer
	limit     int
	Truncated bool
}

// NewBoundedBuffer creates a new BoundedBuffer with the specified limit.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{
		limit: limit,
	}
}

// Write implements io.Writer.
// It writes data up to the limit and then silently discards any additional data.
// The Truncated field is set to true if any data was discarded.
func (b *BoundedBuffer) Write(p []byte) (n int, err error) {
	if b.buffer.Len() >= b.limit {
		b.Truncated = true
		return len(p), nil // Pretend we wrote it all to satisfy io.Writer contract
	}

	remaining := b.limit - b.buffer.Len()
	if len(p) > remaining {
		b.Truncated = true
		n, err = b.buffer.Write(p[:remaining])
		if err != nil {
			return n, err
		}
		return len(p), nil // Return len(p) to avoid short write error
	}

	return b.buffer.Write(p)
}

// String returns the buffer contents as a string.
func (b *BoundedBuffer) String() string {
	return b.buffer.String()
}

// Bytes returns the buffer contents as a byte slice.
func (b *BoundedBuffer) Bytes() []byte {
	return b.buffer.Bytes()
}

// Len returns the current length of the buffer.
func (b *BoundedBuffer) Len() int {
	return b.buffer.Len()
}

// Reset resets the buffer and clears the Truncated flag.
func (b *BoundedBuffer) Reset() {
	b.buffer.Reset()
	b.Truncated = false
}

// ReadCString reads a NUL-terminated string starting at ptr. It fails when
// no terminator is found within limit bytes or before the end of memory.
func ReadCString(mem ports.Memory, ptr uint32, limit int) (string, error) {
	if mem == nil {
		return "", fmt.Errorf("no guest memory")
	}
	buf := NewBoundedBuffer(limit)
	const chunk = 32
	size := mem.Size()
	for off := ptr; off < size && buf.Len() < limit; {
		n := min(uint32(chunk), size-off)
		data, err := mem.Read(off, n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			buf.Write(data[:i])
			if buf.Truncated {
				break
			}
			return buf.String(), nil
		}
		buf.Write(data)
		off += n
	}
	return "", fmt.Errorf("string at %#x is not NUL-terminated within %d bytes", ptr, limit)
}
