package guests

import (
	"github.com/cilium/ebpf/asm"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
	"github.com/datenlord/wbpf-userspace/linker"
)

// MulDivGuest is the name of the unsigned multiply/divide guest.
const MulDivGuest = "muldiv"

// MulDiv returns the guest storing a*b, a/b and a%b through three output
// pointers and then signalling completion:
//
//	mul_div_u(a, b, out_mul, out_div, out_mod)
//
// Division by zero traps before completion.
func MulDiv() *Guest {
	return &Guest{
		Name:        MulDivGuest,
		Description: "Unsigned multiply, divide and remainder",
		Entries: []entities.EntrySpec{
			{Name: "mul_div_u", Params: sig(i64, i64, i32, i32, i32), NoReturn: true},
		},
		Imports: []string{hostfuncs.CompleteFunc},
		objects: []linker.Object{mulDivObject()},
		wasm:    mulDivWasm,
	}
}

func mulDivObject() linker.Object {
	return linker.Object{
		Name: MulDivGuest,
		Functions: []linker.Function{
			{Name: "mul_div_u", Global: true, Insns: asm.Instructions{
				asm.Mov.Reg(asm.R0, asm.R1),
				asm.Mul.Reg(asm.R0, asm.R2),
				asm.StoreMem(asm.R3, 0, asm.R0, asm.DWord),
				asm.Mov.Reg(asm.R0, asm.R1),
				asm.Div.Reg(asm.R0, asm.R2),
				asm.StoreMem(asm.R4, 0, asm.R0, asm.DWord),
				asm.Mov.Reg(asm.R0, asm.R1),
				asm.Mod.Reg(asm.R0, asm.R2),
				asm.StoreMem(asm.R5, 0, asm.R0, asm.DWord),
				asm.Call.Label(hostfuncs.CompleteFunc),
				asm.Return(),
			}},
		},
	}
}

func mulDivWasm(host string) *wasmgen.Module {
	var (
		i32 = wasmgen.I32
		i64 = wasmgen.I64
	)
	m := wasmgen.NewModule()
	complete := m.ImportFunc(host, hostfuncs.CompleteFunc, wasmgen.Func(nil))
	m.Memory(1, "memory")

	m.Func("mul_div_u", wasmgen.Func(wasmgen.Params(i64, i64, i32, i32, i32)), nil, wasmgen.NewCode().
		LocalGet(2).LocalGet(0).LocalGet(1).I64Mul().I64Store(0).
		LocalGet(3).LocalGet(0).LocalGet(1).I64DivU().I64Store(0).
		LocalGet(4).LocalGet(0).LocalGet(1).I64RemU().I64Store(0).
		Call(complete).
		Unreachable())

	allocator(m, 1024)
	return m
}
