package guests

import (
	"github.com/cilium/ebpf/asm"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
	"github.com/datenlord/wbpf-userspace/linker"
)

// AESGuest is the name of the AES-CBC guest.
const AESGuest = "aes"

// AES returns the guest encrypting or decrypting a buffer in place with
// AES-CBC and then signalling completion:
//
//	do_encrypt(buffer, size, key, iv)
//	do_decrypt(buffer, size, key, iv)
//
// The cipher itself is provided by the host.
func AES() *Guest {
	params := sig(i32, i32, i32, i32)
	return &Guest{
		Name:        AESGuest,
		Description: "In-place AES-CBC over a guest buffer",
		Entries: []entities.EntrySpec{
			{Name: "do_encrypt", Params: params, NoReturn: true},
			{Name: "do_decrypt", Params: params, NoReturn: true},
		},
		Imports: []string{hostfuncs.AESDecryptFunc, hostfuncs.AESEncryptFunc, hostfuncs.CompleteFunc},
		objects: []linker.Object{aesObject()},
		wasm:    aesWasm,
	}
}

func aesObject() linker.Object {
	entry := func(name, helper string) linker.Function {
		return linker.Function{Name: name, Global: true, Insns: asm.Instructions{
			asm.Call.Label(helper),
			asm.Call.Label(hostfuncs.CompleteFunc),
			asm.Return(),
		}}
	}
	return linker.Object{
		Name: AESGuest,
		Functions: []linker.Function{
			entry("do_encrypt", hostfuncs.AESEncryptFunc),
			entry("do_decrypt", hostfuncs.AESDecryptFunc),
		},
	}
}

func aesWasm(host string) *wasmgen.Module {
	var (
		i32 = wasmgen.I32
		p   = wasmgen.Params
	)
	m := wasmgen.NewModule()
	cipherSig := wasmgen.Func(p(i32, i32, i32, i32), i32)
	encrypt := m.ImportFunc(host, hostfuncs.AESEncryptFunc, cipherSig)
	decrypt := m.ImportFunc(host, hostfuncs.AESDecryptFunc, cipherSig)
	complete := m.ImportFunc(host, hostfuncs.CompleteFunc, wasmgen.Func(nil))
	m.Memory(1, "memory")

	entry := func(name string, helper uint32) {
		m.Func(name, wasmgen.Func(p(i32, i32, i32, i32)), nil, wasmgen.NewCode().
			LocalGet(0).LocalGet(1).LocalGet(2).LocalGet(3).Call(helper).Drop().
			Call(complete).
			Unreachable())
	}
	entry("do_encrypt", encrypt)
	entry("do_decrypt", decrypt)

	allocator(m, 1024)
	return m
}
