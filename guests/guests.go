package guests

import (
	"fmt"
	"sort"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
	"github.com/datenlord/wbpf-userspace/linker"
)

// Version is the manifest version of every built-in guest.
const Version = "0.1.0"

// Guest is a built-in guest program available for both engines.
type Guest struct {
	Name        string
	Description string
	Entries     []entities.EntrySpec
	Data        []entities.DataSpec
	Imports     []string

	objects []linker.Object
	wasm    func(hostModule string) *wasmgen.Module
}

// Manifest returns the guest manifest for the given engine.
func (g *Guest) Manifest(engine entities.Engine) *entities.Manifest {
	m := &entities.Manifest{
		Name:        g.Name,
		Version:     Version,
		Description: g.Description,
		Engine:      engine,
		Entries:     make([]entities.EntrySpec, len(g.Entries)),
		Data:        make([]entities.DataSpec, len(g.Data)),
		Imports:     make([]string, len(g.Imports)),
	}
	copy(m.Entries, g.Entries)
	copy(m.Data, g.Data)
	copy(m.Imports, g.Imports)
	return m
}

// Objects returns the wBPF objects of the guest.
func (g *Guest) Objects() []linker.Object {
	out := make([]linker.Object, len(g.objects))
	copy(out, g.objects)
	return out
}

// Link links the wBPF objects against platform, keeping only code
// reachable from the declared entries.
func (g *Guest) Link(platform *entities.HostPlatform) (*entities.Image, error) {
	roots := make([]string, len(g.Entries))
	for i, e := range g.Entries {
		roots[i] = e.Name
	}
	l := linker.New(linker.WithPlatform(platform), linker.WithDCERoots(roots...))
	for _, obj := range g.objects {
		if err := l.AddObject(obj); err != nil {
			return nil, err
		}
	}
	return l.Link()
}

// Wasm encodes the WebAssembly form of the guest. Host functions are
// imported from entities.DefaultHostModule.
func (g *Guest) Wasm() ([]byte, error) {
	return g.WasmFor(entities.DefaultHostModule)
}

// WasmFor encodes the WebAssembly form importing host functions from
// hostModule.
func (g *Guest) WasmFor(hostModule string) ([]byte, error) {
	bin, err := g.wasm(hostModule).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", g.Name, err)
	}
	return bin, nil
}

// Module builds a loadable module for engine. The platform is only used
// for wBPF guests.
func (g *Guest) Module(engine entities.Engine, platform *entities.HostPlatform) (*entities.Module, error) {
	mod := &entities.Module{
		Name:     g.Name,
		Engine:   engine,
		Manifest: g.Manifest(engine),
	}
	switch engine {
	case entities.EngineBPF:
		img, err := g.Link(platform)
		if err != nil {
			return nil, err
		}
		mod.Image = img
	case entities.EngineWasm:
		bin, err := g.Wasm()
		if err != nil {
			return nil, err
		}
		mod.Wasm = bin
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
	return mod, nil
}

// All returns every built-in guest sorted by name.
func All() []*Guest {
	all := []*Guest{AES(), CallByName(), MulDiv()}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Lookup returns the built-in guest with the given name.
func Lookup(name string) (*Guest, bool) {
	for _, g := range All() {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

func sig(params ...entities.ValueType) []entities.ValueType {
	return params
}

var (
	i32 = entities.ValueTypeI32
	i64 = entities.ValueTypeI64
)

// allocator adds the bump allocator every wasm guest exports for host
// buffers. The heap starts at base and grows in 8-byte steps.
func allocator(m *wasmgen.Module, base int32) {
	heap := m.Global("", wasmgen.I32, true, int64(base))
	m.Func("allocate", wasmgen.Func(wasmgen.Params(wasmgen.I32), wasmgen.I32), []wasmgen.ValType{wasmgen.I32}, wasmgen.NewCode().
		GlobalGet(heap).LocalSet(1).
		GlobalGet(heap).LocalGet(0).I32Add().I32Const(7).I32Add().I32Const(-8).I32And().GlobalSet(heap).
		LocalGet(1))
}
