package linker

import (
	"bytes"
	stdErrors "errors"
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/internal/isa"
	"github.com/datenlord/wbpf-userspace/internal/testutil"
)

func platform() *entities.HostPlatform {
	return &entities.HostPlatform{
		Helpers:    map[string]int32{"extAdd": 4, "wbpf_host_complete": 5},
		DataOffset: 0x200,
	}
}

func decode(t *testing.T, img *entities.Image) asm.Instructions {
	t.Helper()
	insns, err := isa.Decode(img.Code)
	require.NoError(t, err)
	return insns
}

func TestLink_ResolvesCallsAndData(t *testing.T) {
	l := New(WithPlatform(platform()))
	require.NoError(t, l.AddObject(Object{
		Name: "calc",
		Functions: []Function{
			{Name: "main", Global: true, Insns: asm.Instructions{
				asm.LoadImm(asm.R6, 4, asm.DWord).WithReference("table"),
				asm.Call.Label("add"),
				asm.Call.Label("extAdd"),
				asm.Return(),
			}},
			{Name: "add", Insns: asm.Instructions{
				asm.Mov.Reg(asm.R0, asm.R1),
				asm.Return(),
			}},
		},
		Data: []Data{
			{Name: "pad", Bytes: []byte{1, 2, 3}},
			{Name: "table", Global: true, Bytes: []byte{9, 9, 9, 9, 9, 9, 9, 9}},
		},
	}))

	img, err := l.Link()
	require.NoError(t, err)

	wantTable := &entities.OffsetTable{
		FuncOffsets: map[string]int32{"main": 0, "calc:add": 5 * isa.SlotSize},
		DataSymbols: map[string]entities.DataSymbol{
			"calc:pad": {Offset: 0x200, Size: 3},
			"table":    {Offset: 0x208, Size: 8},
		},
	}
	if diff := cmp.Diff(wantTable, img.OffsetTable); diff != "" {
		t.Errorf("offset table mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0, 9, 9, 9, 9, 9, 9, 9, 9}, img.Data)
	assert.Same(t, img.Platform, l.cfg.platform)

	insns := decode(t, img)
	require.Len(t, insns, 6)
	assert.Equal(t, int64(0x208+4), insns[0].Constant, "data address plus addend")
	assert.Equal(t, asm.PseudoCall, insns[1].Src)
	assert.Equal(t, int64(5-(2+1)), insns[1].Constant, "relative to the next slot")
	assert.Equal(t, asm.R0, insns[2].Src)
	assert.Equal(t, int64(4), insns[2].Constant, "helper index")
}

func TestLink_Labels(t *testing.T) {
	l := New()
	require.NoError(t, l.AddObject(Object{
		Name: "o",
		Functions: []Function{{Name: "abs", Global: true, Insns: asm.Instructions{
			asm.Mov.Reg(asm.R0, asm.R1),
			asm.JSGE.Imm(asm.R0, 0, "done"),
			asm.Neg.Imm(asm.R0, 0),
			asm.LoadImm(asm.R2, 0, asm.DWord),
			asm.Ja.Label("done"),
			asm.Mov.Imm(asm.R0, 0),
			asm.Return().WithSymbol("done"),
		}}},
	}))
	img, err := l.Link()
	require.NoError(t, err)
	insns := decode(t, img)
	// slots: 0 mov, 1 jsge, 2 neg, 3-4 lddw, 5 ja, 6 mov, 7 exit
	assert.Equal(t, int16(7-2), insns[1].Offset)
	assert.Equal(t, int16(7-6), insns[4].Offset)
}

func TestLink_MachineHelpers(t *testing.T) {
	l := New(WithMachine(&entities.TargetMachine{Helpers: map[string]int32{"pe_yield": 100}}))
	require.NoError(t, l.AddObject(Object{Name: "o", Functions: []Function{{
		Name: "f", Global: true, Insns: asm.Instructions{asm.Call.Label("pe_yield"), asm.Return()},
	}}}))
	img, err := l.Link()
	require.NoError(t, err)
	assert.Equal(t, int64(100), decode(t, img)[0].Constant)
}

func TestLink_Errors(t *testing.T) {
	fn := func(name string, global bool, insns ...asm.Instruction) Function {
		return Function{Name: name, Global: global, Insns: insns}
	}

	t.Run("duplicate global function", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddObject(Object{Name: "a", Functions: []Function{fn("f", true, asm.Return())}}))
		require.NoError(t, l.AddObject(Object{Name: "b", Functions: []Function{fn("f", true, asm.Return())}}))
		_, err := l.Link()
		require.ErrorIs(t, err, ErrMultipleDefinitions)
		var le *errors.LinkError
		require.True(t, stdErrors.As(err, &le))
		assert.Equal(t, "b", le.Object)
		assert.Contains(t, err.Error(), "multiple definitions of function")
	})

	t.Run("local functions do not clash", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddObject(Object{Name: "a", Functions: []Function{fn("f", false, asm.Return())}}))
		require.NoError(t, l.AddObject(Object{Name: "b", Functions: []Function{fn("f", false, asm.Return())}}))
		img, err := l.Link()
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a:f", "b:f"}, img.Functions())
	})

	t.Run("duplicate data", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddObject(Object{Name: "a", Data: []Data{{Name: "d", Global: true}, {Name: "d", Global: true}}}))
		_, err := l.Link()
		assert.ErrorContains(t, err, "multiple definitions of data")
	})

	t.Run("unresolved call", func(t *testing.T) {
		l := New(WithPlatform(platform()))
		require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{
			fn("main", true, asm.Call.Label("nowhere"), asm.Return()),
		}}))
		_, err := l.Link()
		ue := testutil.RequireUnresolved(t, err, "nowhere")
		assert.Equal(t, "m", ue.Module)
		assert.Equal(t, "main", ue.From)
	})

	t.Run("undefined label", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{
			fn("main", true, asm.Ja.Label("missing"), asm.Return()),
		}}))
		_, err := l.Link()
		assert.ErrorContains(t, err, `undefined label "missing"`)
	})

	t.Run("undefined data", func(t *testing.T) {
		l := New()
		require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{
			fn("main", true, asm.LoadImm(asm.R1, 0, asm.DWord).WithReference("nodata"), asm.Return()),
		}}))
		_, err := l.Link()
		assert.ErrorContains(t, err, `undefined data symbol "nodata"`)
	})

	t.Run("unnamed object", func(t *testing.T) {
		assert.Error(t, New().AddObject(Object{}))
	})

	t.Run("unknown dce root", func(t *testing.T) {
		l := New(WithDCERoots("absent"))
		require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{fn("main", true, asm.Return())}}))
		_, err := l.Link()
		assert.ErrorContains(t, err, "dce root")
	})
}

func TestLink_DeadCodeElimination(t *testing.T) {
	l := New(WithDCERoots("entry"), WithPlatform(platform()))
	require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{
		{Name: "unused", Global: true, Insns: asm.Instructions{asm.Call.Label("nowhere"), asm.Return()}},
		{Name: "entry", Global: true, Insns: asm.Instructions{asm.Call.Label("leaf"), asm.Return()}},
		{Name: "leaf", Insns: asm.Instructions{asm.Call.Label("extAdd"), asm.Return()}},
	}}))
	img, err := l.Link()
	require.NoError(t, err, "unreachable functions are not resolved")
	assert.Equal(t, []string{"entry", "m:leaf"}, img.Functions())
	assert.Len(t, img.Code, 4*isa.SlotSize)
}

func TestDisassemble(t *testing.T) {
	l := New(WithPlatform(platform()))
	require.NoError(t, l.AddObject(Object{Name: "m", Functions: []Function{
		{Name: "main", Global: true, Insns: asm.Instructions{
			asm.Call.Label("helper"),
			asm.Call.Label("wbpf_host_complete"),
			asm.Return(),
		}},
		{Name: "helper", Insns: asm.Instructions{asm.Mov.Imm(asm.R0, 1), asm.Return()}},
	}}))
	img, err := l.Link()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Disassemble(&buf, img))
	out := buf.String()
	assert.Contains(t, out, "\nmain:\n")
	assert.Contains(t, out, "\nm:helper:\n")
	assert.Contains(t, out, "\t0: ")
	assert.Contains(t, out, "; m:helper")
	assert.Contains(t, out, "; wbpf_host_complete")
	assert.Contains(t, out, "\t4: ")
}
