package guests

import (
	"encoding/binary"

	"github.com/cilium/ebpf/asm"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
	"github.com/datenlord/wbpf-userspace/linker"
)

// CallByNameGuest is the name of the dynamic lookup and static data guest.
const CallByNameGuest = "callbyname"

// InitialData is the initial content of the callbyname data segment.
var InitialData = []uint64{0x1111, 0x2222, 0x99}

// DataSymbol is the exported data segment of the callbyname guest.
const DataSymbol = "data"

// CallByName returns the guest exercising dynamic host lookups, static data
// and mixed local/host calls:
//
//	entry()                 callByName("test") + callByName("test2") + 1
//	set_data(index, value)  data[index] = value
//	get_data(index)         data[index]
//	callAddPlusOne(a, b)    add(a, b) + extAdd(a, b) + 1
func CallByName() *Guest {
	return &Guest{
		Name:        CallByNameGuest,
		Description: "Dynamic host lookup, static data access and host arithmetic",
		Entries: []entities.EntrySpec{
			{Name: "entry", Results: sig(i64)},
			{Name: "set_data", Params: sig(i32, i64)},
			{Name: "get_data", Params: sig(i32), Results: sig(i64)},
			{Name: "callAddPlusOne", Params: sig(i32, i32), Results: sig(i32)},
		},
		Data:    []entities.DataSpec{{Name: DataSymbol, Width: 8, Length: len(InitialData)}},
		Imports: []string{hostfuncs.CallByNameFunc, hostfuncs.ExtAddFunc},
		objects: []linker.Object{callByNameObject()},
		wasm:    callByNameWasm,
	}
}

func initialDataBytes() []byte {
	data := make([]byte, 0, 8*len(InitialData))
	for _, v := range InitialData {
		data = binary.LittleEndian.AppendUint64(data, v)
	}
	return data
}

func callByNameObject() linker.Object {
	data := initialDataBytes()

	// index is an int: sign extend and scale to a byte offset.
	elem := func(idx, base asm.Register) asm.Instructions {
		return asm.Instructions{
			asm.LSh.Imm(idx, 32),
			asm.ArSh.Imm(idx, 32),
			asm.LSh.Imm(idx, 3),
			asm.LoadImm(base, 0, asm.DWord).WithReference(DataSymbol),
			asm.Add.Reg(base, idx),
		}
	}

	return linker.Object{
		Name: CallByNameGuest,
		Data: []linker.Data{
			{Name: DataSymbol, Bytes: data, Global: true},
			{Name: "str_test", Bytes: []byte("test\x00"), Align: 1},
			{Name: "str_test2", Bytes: []byte("test2\x00"), Align: 1},
		},
		Functions: []linker.Function{
			{Name: "entry", Global: true, Insns: asm.Instructions{
				asm.LoadImm(asm.R1, 0, asm.DWord).WithReference("str_test"),
				asm.Call.Label(hostfuncs.CallByNameFunc),
				asm.Mov.Reg(asm.R6, asm.R0),
				asm.LoadImm(asm.R1, 0, asm.DWord).WithReference("str_test2"),
				asm.Call.Label(hostfuncs.CallByNameFunc),
				asm.Add.Reg(asm.R0, asm.R6),
				asm.Add.Imm(asm.R0, 1),
				asm.Return(),
			}},
			{Name: "set_data", Global: true, Insns: append(elem(asm.R1, asm.R3),
				asm.StoreMem(asm.R3, 0, asm.R2, asm.DWord),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			)},
			{Name: "get_data", Global: true, Insns: append(elem(asm.R1, asm.R2),
				asm.LoadMem(asm.R0, asm.R2, 0, asm.DWord),
				asm.Return(),
			)},
			{Name: "add", Insns: asm.Instructions{
				asm.Mov.Reg32(asm.R0, asm.R1),
				asm.Add.Reg32(asm.R0, asm.R2),
				asm.Return(),
			}},
			{Name: "callAddPlusOne", Global: true, Insns: asm.Instructions{
				asm.Mov.Reg(asm.R6, asm.R1),
				asm.Mov.Reg(asm.R7, asm.R2),
				asm.Call.Label("add"),
				asm.Mov.Reg(asm.R8, asm.R0),
				asm.Mov.Reg(asm.R1, asm.R6),
				asm.Mov.Reg(asm.R2, asm.R7),
				asm.Call.Label(hostfuncs.ExtAddFunc),
				asm.Add.Reg32(asm.R0, asm.R8),
				asm.Add.Imm32(asm.R0, 1),
				asm.Return(),
			}},
		},
	}
}

// Fixed layout of the wasm form.
const (
	wasmDataAddr = 1024
	wasmStrTest  = 1056
	wasmStrTest2 = wasmStrTest + len("test\x00")
	wasmHeapBase = 4096
)

func callByNameWasm(host string) *wasmgen.Module {
	var (
		i32 = wasmgen.I32
		i64 = wasmgen.I64
		p   = wasmgen.Params
	)
	m := wasmgen.NewModule()
	callByName := m.ImportFunc(host, hostfuncs.CallByNameFunc, wasmgen.Func(p(i32), i64))
	extAdd := m.ImportFunc(host, hostfuncs.ExtAddFunc, wasmgen.Func(p(i32, i32), i32))
	m.Memory(1, "memory")
	m.Global(DataSymbol, i32, false, wasmDataAddr)
	m.Data(wasmDataAddr, initialDataBytes())
	m.Data(wasmStrTest, []byte("test\x00test2\x00"))

	m.Func("entry", wasmgen.Func(nil, i64), nil, wasmgen.NewCode().
		I32Const(wasmStrTest).Call(callByName).
		I32Const(int32(wasmStrTest2)).Call(callByName).
		I64Add().I64Const(1).I64Add())

	// element address: data + index<<3
	elem := func(c *wasmgen.Code) *wasmgen.Code {
		return c.I32Const(wasmDataAddr).LocalGet(0).I32Const(3).I32Shl().I32Add()
	}
	m.Func("set_data", wasmgen.Func(p(i32, i64)), nil, elem(wasmgen.NewCode()).LocalGet(1).I64Store(0))
	m.Func("get_data", wasmgen.Func(p(i32), i64), nil, elem(wasmgen.NewCode()).I64Load(0))

	add := m.Func("", wasmgen.Func(p(i32, i32), i32), nil, wasmgen.NewCode().
		LocalGet(0).LocalGet(1).I32Add())
	m.Func("callAddPlusOne", wasmgen.Func(p(i32, i32), i32), nil, wasmgen.NewCode().
		LocalGet(0).LocalGet(1).Call(add).
		LocalGet(0).LocalGet(1).Call(extAdd).
		I32Add().I32Const(1).I32Add())

	allocator(m, wasmHeapBase)
	return m
}
