package hostfuncs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

func TestNewFunction(t *testing.T) {
	sig := entities.Signature{Params: params(i32, i32), Results: params(i32)}
	fn := NewFunction("add", sig, func(_ HostContext, args []uint64) (uint64, error) {
		return Arg(args, 0) + Arg(args, 1), nil
	})
	assert.Equal(t, "add", fn.Name)
	assert.Equal(t, sig, fn.Signature)
	require.NotNil(t, fn.Handler)

	res, err := fn.Handler(nil, []uint64{2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res)
}

func TestArgAccessors(t *testing.T) {
	args := []uint64{0xffff_ffff, 0x1_0000_0010, 7}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"arg in range", Arg(args, 2), uint64(7)},
		{"arg past end", Arg(args, 3), uint64(0)},
		{"int32 sign", ArgInt32(args, 0), int32(-1)},
		{"int32 truncates", ArgInt32(args, 1), int32(0x10)},
		{"int32 past end", ArgInt32(args, 5), int32(0)},
		{"ptr truncates", ArgPtr(args, 1), uint32(0x10)},
		{"ptr past end", ArgPtr(nil, 0), uint32(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
