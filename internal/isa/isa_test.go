package isa

import (
	"testing"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Layout(t *testing.T) {
	code := Encode(asm.Instructions{
		asm.Mov.Imm(asm.R0, -1),
		asm.Return(),
	})
	require.Len(t, code, 16)

	// mov64 r0, -1 = b7 00 00 00 ff ff ff ff
	assert.Equal(t, []byte{0xb7, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0xff}, code[:8])
	// exit = 95 00 00 00 00 00 00 00
	assert.Equal(t, []byte{0x95, 0, 0, 0, 0, 0, 0, 0}, code[8:])
}

func TestEncode_Registers(t *testing.T) {
	code := Encode(asm.Instructions{asm.StoreMem(asm.R3, -8, asm.R7, asm.DWord)})
	assert.Equal(t, byte(0x73), code[1], "dst in the low nibble, src in the high nibble")
	assert.Equal(t, int16(-8), int16(uint16(code[2])|uint16(code[3])<<8))
}

func TestDWordLoad_TwoSlots(t *testing.T) {
	ins := asm.LoadImm(asm.R1, 0x1122334455667788, asm.DWord)
	assert.True(t, IsDWordLoad(ins.OpCode))
	assert.Equal(t, 2, Slots(ins))

	code := Encode(asm.Instructions{ins, asm.Return()})
	require.Len(t, code, 24)

	decoded, n, err := DecodeAt(code, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(0x1122334455667788), decoded.Constant)
	assert.Equal(t, asm.R1, decoded.Dst)
}

func TestDecode_RoundTripsFields(t *testing.T) {
	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.Add.Imm32(asm.R6, 1),
		asm.LoadMem(asm.R0, asm.R6, 16, asm.Word),
		asm.JEq.Imm(asm.R0, 0, "out"),
		asm.Return(),
	}
	insns[3].Offset = 1

	decoded, err := Decode(Encode(insns))
	require.NoError(t, err)
	require.Len(t, decoded, len(insns))
	for i := range insns {
		assert.Equal(t, insns[i].OpCode, decoded[i].OpCode, "insn %d", i)
		assert.Equal(t, insns[i].Dst, decoded[i].Dst, "insn %d", i)
		assert.Equal(t, insns[i].Src, decoded[i].Src, "insn %d", i)
		assert.Equal(t, insns[i].Offset, decoded[i].Offset, "insn %d", i)
		assert.Equal(t, insns[i].Constant, decoded[i].Constant, "insn %d", i)
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(make([]byte, 7))
	assert.Error(t, err)

	// lddw with its second slot missing
	code := Encode(asm.Instructions{asm.LoadImm(asm.R1, 1, asm.DWord)})
	_, err = Decode(code[:8])
	assert.Error(t, err)

	_, _, err = DecodeAt(code, 3)
	assert.Error(t, err)
}
