// Package isa encodes and decodes wBPF machine code: little-endian eBPF
// instruction slots as executed by the processing element.
package isa

import (
	"encoding/binary"
	"fmt"

	"github.com/cilium/ebpf/asm"
)

// SlotSize is the size of one instruction slot.
const SlotSize = 8

// IsDWordLoad reports whether op is the two-slot 64-bit immediate load.
func IsDWordLoad(op asm.OpCode) bool {
	return op.Class() == asm.LdClass && op.Mode() == asm.ImmMode && op.Size() == asm.DWord
}

// Slots returns how many slots ins occupies.
func Slots(ins asm.Instruction) int {
	if IsDWordLoad(ins.OpCode) {
		return 2
	}
	return 1
}

// SlotCount returns the number of slots taken by insns.
func SlotCount(insns asm.Instructions) int {
	n := 0
	for _, ins := range insns {
		n += Slots(ins)
	}
	return n
}

// Put encodes ins into buf, which must hold Slots(ins) slots.
func Put(buf []byte, ins asm.Instruction) {
	buf[0] = byte(ins.OpCode)
	buf[1] = byte(ins.Dst)&0x0f | byte(ins.Src)<<4
	binary.LittleEndian.PutUint16(buf[2:4], uint16(ins.Offset))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ins.Constant))
	if IsDWordLoad(ins.OpCode) {
		clear(buf[8:12])
		binary.LittleEndian.PutUint32(buf[12:16], uint32(uint64(ins.Constant)>>32))
	}
}

// Encode serializes instructions into machine code.
func Encode(insns asm.Instructions) []byte {
	out := make([]byte, SlotCount(insns)*SlotSize)
	off := 0
	for _, ins := range insns {
		Put(out[off:], ins)
		off += Slots(ins) * SlotSize
	}
	return out
}

// DecodeAt decodes the instruction at byte offset off and returns it with
// the number of slots it occupies.
func DecodeAt(code []byte, off int) (asm.Instruction, int, error) {
	if off < 0 || off%SlotSize != 0 || off+SlotSize > len(code) {
		return asm.Instruction{}, 0, fmt.Errorf("instruction offset %d outside code of %d bytes", off, len(code))
	}
	b := code[off:]
	ins := asm.Instruction{
		OpCode:   asm.OpCode(b[0]),
		Dst:      asm.Register(b[1] & 0x0f),
		Src:      asm.Register(b[1] >> 4),
		Offset:   int16(binary.LittleEndian.Uint16(b[2:4])),
		Constant: int64(int32(binary.LittleEndian.Uint32(b[4:8]))),
	}
	if !IsDWordLoad(ins.OpCode) {
		return ins, 1, nil
	}
	if off+2*SlotSize > len(code) {
		return asm.Instruction{}, 0, fmt.Errorf("truncated 64-bit load at offset %d", off)
	}
	lo := uint64(binary.LittleEndian.Uint32(b[4:8]))
	hi := uint64(binary.LittleEndian.Uint32(b[12:16]))
	ins.Constant = int64(hi<<32 | lo)
	return ins, 2, nil
}

// Decode decodes a whole code image.
func Decode(code []byte) (asm.Instructions, error) {
	if len(code)%SlotSize != 0 {
		return nil, fmt.Errorf("code length %d is not a multiple of %d", len(code), SlotSize)
	}
	var insns asm.Instructions
	for off := 0; off < len(code); {
		ins, n, err := DecodeAt(code, off)
		if err != nil {
			return nil, err
		}
		insns = append(insns, ins)
		off += n * SlotSize
	}
	return insns, nil
}
