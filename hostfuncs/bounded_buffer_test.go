package hostfuncs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/internal/testutil"
)

func TestBoundedBuffer_Write(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		writes    []string
		want      string
		truncated bool
	}{
		{"within limit", 100, []string{"hello"}, "hello", false},
		{"truncates at limit", 10, []string{"hello world"}, "hello worl", true},
		{"multiple writes", 10, []string{"12345", "67890", "XXXXX"}, "1234567890", true},
		{"zero limit", 0, []string{"a"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewBoundedBuffer(tt.limit)
			for _, w := range tt.writes {
				n, err := buf.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n, "writes report the full length")
			}
			assert.Equal(t, tt.want, buf.String())
			assert.Equal(t, tt.truncated, buf.Truncated)
			assert.Equal(t, len(tt.want), buf.Len())
		})
	}
}

func TestBoundedBuffer_Reset(t *testing.T) {
	buf := NewBoundedBuffer(3)
	_, _ = buf.Write([]byte("abcdef"))
	require.True(t, buf.Truncated)
	buf.Reset()
	assert.False(t, buf.Truncated)
	assert.Empty(t, buf.Bytes())
}

func TestReadCString(t *testing.T) {
	mem := testutil.NewMemory(100)
	mem.PutCString(0, "short")
	long := strings.Repeat("n", 70)
	mem.PutCString(10, long)
	copy(mem.Bytes[90:], "noterminat")

	s, err := ReadCString(mem, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "short", s)

	s, err = ReadCString(mem, 10, 128)
	require.NoError(t, err)
	assert.Equal(t, long, s)

	_, err = ReadCString(mem, 10, 64)
	assert.ErrorContains(t, err, "not NUL-terminated")

	_, err = ReadCString(mem, 90, 64)
	assert.Error(t, err, "runs off the end of memory")

	s, err = ReadCString(mem, 5, 8)
	require.NoError(t, err)
	assert.Empty(t, s)

	_, err = ReadCString(nil, 0, 8)
	assert.Error(t, err)
}
