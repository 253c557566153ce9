package host_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cilium/ebpf/asm"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/guests"
	"github.com/datenlord/wbpf-userspace/host"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
	"github.com/datenlord/wbpf-userspace/linker"
)

func testRegistry(t *testing.T) *hostfuncs.Registry {
	t.Helper()
	reg, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware()),
		hostfuncs.WithBundle(hostfuncs.StandardBundle(zaptest.NewLogger(t),
			hostfuncs.WithNamedValue("test", 5),
			hostfuncs.WithNamedValue("test2", 7),
		)),
	)
	require.NoError(t, err)
	return reg
}

func testConfig() entities.Config {
	return entities.NewConfig(
		entities.WithTimeout(2*time.Second),
		entities.WithMemorySize(64*1024),
		entities.WithStackSize(4096),
	)
}

// observerCount counts delivered completions.
type observerCount struct {
	n    atomic.Int64
	last atomic.Pointer[entities.Completion]
}

func (o *observerCount) observe(_ context.Context, c *entities.Completion) {
	o.n.Add(1)
	o.last.Store(c)
}

func newExecutor(t *testing.T, opts ...host.Option) *host.Executor {
	t.Helper()
	ctx := context.Background()
	base := []host.Option{
		host.WithHostFunctions(testRegistry(t)),
		host.WithConfig(testConfig()),
		host.WithLogger(zaptest.NewLogger(t)),
	}
	exec, err := host.NewExecutor(ctx, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close(ctx) })
	return exec
}

func loadGuest(t *testing.T, exec *host.Executor, name string, engine entities.Engine) *host.Module {
	t.Helper()
	g, ok := guests.Lookup(name)
	require.True(t, ok, name)
	mod, err := g.Module(engine, exec.Platform())
	require.NoError(t, err)
	m, err := exec.Load(context.Background(), mod)
	require.NoError(t, err)
	return m
}

func newInstance(t *testing.T, m *host.Module) *host.Instance {
	t.Helper()
	ctx := context.Background()
	inst, err := m.NewInstance(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

// spinModule returns a module whose spin entry never terminates and whose
// one entry returns 1.
func spinModule(t *testing.T, exec *host.Executor, engine entities.Engine) *entities.Module {
	t.Helper()
	manifest := &entities.Manifest{
		Name:    "spin",
		Version: guests.Version,
		Engine:  engine,
		Entries: []entities.EntrySpec{
			{Name: "spin"},
			{Name: "one", Results: []entities.ValueType{entities.ValueTypeI64}},
		},
	}
	mod := &entities.Module{Name: "spin", Engine: engine, Manifest: manifest}
	switch engine {
	case entities.EngineBPF:
		l := linker.New(linker.WithPlatform(exec.Platform()))
		require.NoError(t, l.AddObject(linker.Object{
			Name: "spin",
			Functions: []linker.Function{
				{Name: "spin", Global: true, Insns: asm.Instructions{
					asm.Mov.Imm(asm.R0, 0).WithSymbol("loop"),
					asm.Add.Imm(asm.R0, 1),
					asm.Ja.Label("loop"),
					asm.Return(),
				}},
				{Name: "one", Global: true, Insns: asm.Instructions{
					asm.Mov.Imm(asm.R0, 1),
					asm.Return(),
				}},
			},
		}))
		img, err := l.Link()
		require.NoError(t, err)
		mod.Image = img
	case entities.EngineWasm:
		m := wasmgen.NewModule()
		m.Memory(1, "memory")
		m.Func("spin", wasmgen.Func(nil), nil, wasmgen.NewCode().Loop().Br(0).End())
		m.Func("one", wasmgen.Func(nil, wasmgen.I64), nil, wasmgen.NewCode().I64Const(1))
		bin, err := m.Encode()
		require.NoError(t, err)
		mod.Wasm = bin
	}
	return mod
}

var engines = []entities.Engine{entities.EngineBPF, entities.EngineWasm}
