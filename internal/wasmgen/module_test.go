package wasmgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
)

func TestWriter_LEB128(t *testing.T) {
	tests := []struct {
		name string
		fn   func(w *writer)
		want []byte
	}{
		{"u32 zero", func(w *writer) { w.WriteU32(0) }, []byte{0x00}},
		{"u32 624485", func(w *writer) { w.WriteU32(624485) }, []byte{0xe5, 0x8e, 0x26}},
		{"s64 -1", func(w *writer) { w.WriteS64(-1) }, []byte{0x7f}},
		{"s64 63", func(w *writer) { w.WriteS64(63) }, []byte{0x3f}},
		{"s64 64", func(w *writer) { w.WriteS64(64) }, []byte{0xc0, 0x00}},
		{"s64 -123456", func(w *writer) { w.WriteS64(-123456) }, []byte{0xc0, 0xbb, 0x78}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &writer{}
			tt.fn(w)
			assert.Equal(t, tt.want, w.Bytes())
		})
	}
}

func TestEncode_Empty(t *testing.T) {
	bin, err := NewModule().Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, bin)
}

func TestEncode_Errors(t *testing.T) {
	m := NewModule()
	m.Func("f", Func(nil), nil, NewCode())
	m.ImportFunc("env", "late", Func(nil))
	_, err := m.Encode()
	assert.ErrorContains(t, err, "after function definitions")

	m = NewModule()
	m.Data(0, []byte{1})
	_, err = m.Encode()
	assert.ErrorContains(t, err, "without memory")
}

func TestEncode_RunsOnWazero(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	_, err := r.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(a, b uint32) uint32 { return a * b }).
		Export("mul").
		Instantiate(ctx)
	require.NoError(t, err)

	m := NewModule()
	mul := m.ImportFunc("env", "mul", Func(Params(I32, I32), I32))
	m.Memory(1, "memory")
	m.Global("table", I32, false, 256)
	counter := m.Global("", I32, true, 0)
	m.Data(256, []byte{7, 0, 0, 0, 0, 0, 0, 0})

	m.Func("mul_add", Func(Params(I32, I32), I32), nil, NewCode().
		LocalGet(0).LocalGet(1).Call(mul).
		LocalGet(0).I32Add())
	m.Func("load", Func(Params(I32), I64), nil, NewCode().
		LocalGet(0).I64Load(0))
	m.Func("count", Func(Params(I32), I32), []ValType{I32}, NewCode().
		Loop().
		GlobalGet(counter).I32Const(1).I32Add().GlobalSet(counter).
		LocalGet(0).I32Const(1).I32Sub().LocalSet(0).
		LocalGet(0).BrIf(0).
		End().
		GlobalGet(counter))
	m.Func("big", Func(nil, I64), nil, NewCode().I64Const(-1<<40))

	bin, err := m.Encode()
	require.NoError(t, err)

	mod, err := r.Instantiate(ctx, bin)
	require.NoError(t, err)

	res, err := mod.ExportedFunction("mul_add").Call(ctx, 3, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), res[0])

	addr := mod.ExportedGlobal("table").Get()
	assert.Equal(t, uint64(256), addr)
	res, err = mod.ExportedFunction("load").Call(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res[0])

	res, err = mod.ExportedFunction("count").Call(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res[0])

	res, err = mod.ExportedFunction("big").Call(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1<<40), int64(res[0]))

	_, ok := mod.Memory().Read(0, 65536)
	assert.True(t, ok)
}
