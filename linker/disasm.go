package linker

import (
	"fmt"
	"io"

	"github.com/cilium/ebpf/asm"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

// Disassemble writes a listing of img: a header per function followed by
// one line per instruction with its slot number. Helper calls are
// annotated with the helper name and call targets with the callee.
func Disassemble(w io.Writer, img *entities.Image) error {
	starts := make(map[int]string)
	for _, name := range img.Functions() {
		off, _ := img.Function(name)
		slot := int(off) / isa.SlotSize
		if _, taken := starts[slot]; !taken {
			starts[slot] = name
		}
	}

	for off := 0; off < len(img.Code); {
		ins, n, err := isa.DecodeAt(img.Code, off)
		if err != nil {
			return err
		}
		slot := off / isa.SlotSize
		if name, ok := starts[slot]; ok {
			if _, err := fmt.Fprintf(w, "\n%s:\n", name); err != nil {
				return err
			}
		}
		line := fmt.Sprintf("\t%d: %v", slot, ins)
		if note := annotate(img, ins, slot, starts); note != "" {
			line += " ; " + note
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
		off += n * isa.SlotSize
	}
	return nil
}

func annotate(img *entities.Image, ins asm.Instruction, slot int, starts map[int]string) string {
	if !isCall(ins) {
		return ""
	}
	if ins.Src == asm.PseudoCall {
		return starts[slot+1+int(ins.Constant)]
	}
	if name, ok := img.HelperName(int32(ins.Constant)); ok {
		return name
	}
	return fmt.Sprintf("helper#%d", ins.Constant)
}
