package wazero

import (
	"bytes"
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/guests"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/testutil"
	"github.com/datenlord/wbpf-userspace/internal/wasmgen"
)

type EngineSuite struct {
	suite.Suite
	ctx    context.Context
	engine *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	reg, err := hostfuncs.NewRegistry(
		hostfuncs.WithMiddleware(hostfuncs.PanicRecoveryMiddleware()),
		hostfuncs.WithBundle(hostfuncs.StandardBundle(nil,
			hostfuncs.WithNamedValue("test", 5),
			hostfuncs.WithNamedValue("test2", 7),
		)),
	)
	s.Require().NoError(err)
	engine, err := NewEngine(s.ctx, reg)
	s.Require().NoError(err)
	s.engine = engine
}

func (s *EngineSuite) TearDownTest() {
	s.NoError(s.engine.Close(s.ctx))
}

func (s *EngineSuite) load(mod *entities.Module) ports.Program {
	prog, err := s.engine.Load(s.ctx, mod)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = prog.Close(context.Background()) })
	return prog
}

func (s *EngineSuite) instantiate(prog ports.Program) ports.Instance {
	inst, err := prog.Instantiate(s.ctx, "test")
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = inst.Close(context.Background()) })
	return inst
}

func (s *EngineSuite) guest(g *guests.Guest) ports.Instance {
	mod, err := g.Module(entities.EngineWasm, nil)
	s.Require().NoError(err)
	return s.instantiate(s.load(mod))
}

func (s *EngineSuite) raw(m *wasmgen.Module) *entities.Module {
	bin, err := m.Encode()
	s.Require().NoError(err)
	return &entities.Module{Name: "raw", Engine: entities.EngineWasm, Wasm: bin}
}

func (s *EngineSuite) TestKind() {
	s.Equal(entities.EngineWasm, s.engine.Kind())
}

func (s *EngineSuite) TestExports() {
	mod, err := guests.CallByName().Module(entities.EngineWasm, nil)
	s.Require().NoError(err)
	prog := s.load(mod)
	s.Equal([]string{"callAddPlusOne", "entry", "get_data", "set_data"}, prog.Exports())
}

func (s *EngineSuite) TestCallByName() {
	inst := s.guest(guests.CallByName())

	exit, err := inst.Call(s.ctx, "entry", nil)
	s.Require().NoError(err)
	s.Equal(entities.ExitReturned, exit.Reason)
	s.Equal(uint64(13), exit.Result)
	s.Equal(entities.ExceptionHalted|entities.CauseReturned, exit.Exception.Code)
}

func (s *EngineSuite) TestCallAddPlusOne() {
	inst := s.guest(guests.CallByName())
	for _, tt := range []struct{ a, b, want int32 }{
		{2, 3, 11},
		{-4, 1, -5},
		{0x7fffffff, 1, 1},
	} {
		exit, err := inst.Call(s.ctx, "callAddPlusOne", testutil.Int32Args(tt.a, tt.b))
		s.Require().NoError(err)
		s.Equal(tt.want, int32(uint32(exit.Result)), "callAddPlusOne(%d, %d)", tt.a, tt.b)
	}
}

func (s *EngineSuite) TestData() {
	inst := s.guest(guests.CallByName())

	get := func(i int32) uint64 {
		exit, err := inst.Call(s.ctx, "get_data", testutil.Int32Args(i))
		s.Require().NoError(err)
		return exit.Result
	}
	s.Equal(uint64(0x1111), get(0))
	s.Equal(uint64(0x99), get(2))

	_, err := inst.Call(s.ctx, "set_data", []uint64{0, 7})
	s.Require().NoError(err)
	s.Equal(uint64(7), get(0))

	addr, size, ok := inst.Symbol(guests.DataSymbol)
	s.Require().True(ok)
	s.Zero(size)
	v, err := inst.Memory().ReadUint(addr+8, 8)
	s.Require().NoError(err)
	s.Equal(uint64(0x2222), v)

	_, _, ok = inst.Symbol("missing")
	s.False(ok)
}

func (s *EngineSuite) TestInstancesAreIsolated() {
	mod, err := guests.CallByName().Module(entities.EngineWasm, nil)
	s.Require().NoError(err)
	prog := s.load(mod)
	a, b := s.instantiate(prog), s.instantiate(prog)

	_, err = a.Call(s.ctx, "set_data", []uint64{1, 42})
	s.Require().NoError(err)

	exit, err := b.Call(s.ctx, "get_data", []uint64{1})
	s.Require().NoError(err)
	s.Equal(uint64(0x2222), exit.Result)
}

func (s *EngineSuite) TestUnknownRoutine() {
	reg, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.StandardBundle(nil)))
	s.Require().NoError(err)
	engine, err := NewEngine(s.ctx, reg)
	s.Require().NoError(err)
	defer engine.Close(s.ctx)

	mod, err := guests.CallByName().Module(entities.EngineWasm, nil)
	s.Require().NoError(err)
	prog, err := engine.Load(s.ctx, mod)
	s.Require().NoError(err)
	inst, err := prog.Instantiate(s.ctx, "x")
	s.Require().NoError(err)

	_, err = inst.Call(s.ctx, "entry", nil)
	trap := testutil.RequireTrap(s.T(), err, errors.TrapHostFault)
	s.Equal(entities.ExceptionHalted|entities.CauseHostFault, trap.Code)
	testutil.RequireUnresolved(s.T(), err, "test")
}

func (s *EngineSuite) TestMulDiv() {
	inst := s.guest(guests.MulDiv())

	out, err := inst.Alloc(s.ctx, 24)
	s.Require().NoError(err)

	exit, err := inst.Call(s.ctx, "mul_div_u", []uint64{10, 3, uint64(out), uint64(out + 8), uint64(out + 16)})
	s.Require().NoError(err)
	s.Equal(entities.ExitCompleted, exit.Reason)
	for i, want := range []uint64{30, 3, 1} {
		got, err := inst.Memory().ReadUint(out+uint32(8*i), 8)
		s.Require().NoError(err)
		s.Equal(want, got)
	}

	_, err = inst.Call(s.ctx, "mul_div_u", []uint64{10, 0, uint64(out), uint64(out + 8), uint64(out + 16)})
	testutil.RequireTrap(s.T(), err, errors.TrapDivisionByZero)
}

func (s *EngineSuite) TestAESRoundTrip() {
	inst := s.guest(guests.AES())
	mem := inst.Memory()

	key := []byte("0123456789abcdef")
	iv := bytes.Repeat([]byte{7}, 16)
	plain := bytes.Repeat([]byte("wbpf"), 8)

	buf, err := inst.Alloc(s.ctx, uint32(len(plain)+32))
	s.Require().NoError(err)
	keyPtr, ivPtr := buf+uint32(len(plain)), buf+uint32(len(plain))+16
	s.Require().NoError(mem.Write(buf, plain))
	s.Require().NoError(mem.Write(keyPtr, key))
	s.Require().NoError(mem.Write(ivPtr, iv))

	args := []uint64{uint64(buf), uint64(len(plain)), uint64(keyPtr), uint64(ivPtr)}
	exit, err := inst.Call(s.ctx, "do_encrypt", args)
	s.Require().NoError(err)
	s.Equal(entities.ExitCompleted, exit.Reason)

	cipherText, err := mem.Read(buf, uint32(len(plain)))
	s.Require().NoError(err)
	s.NotEqual(plain, cipherText)

	_, err = inst.Call(s.ctx, "do_decrypt", args)
	s.Require().NoError(err)
	got, err := mem.Read(buf, uint32(len(plain)))
	s.Require().NoError(err)
	s.Equal(plain, got)
}

func (s *EngineSuite) TestLoad_UnresolvedImport() {
	m := wasmgen.NewModule()
	m.ImportFunc("env", "nope", wasmgen.Func(nil))
	_, err := s.engine.Load(s.ctx, s.raw(m))
	testutil.RequireUnresolved(s.T(), err, "nope")

	m = wasmgen.NewModule()
	m.ImportFunc("wasi", "fd_write", wasmgen.Func(nil))
	_, err = s.engine.Load(s.ctx, s.raw(m))
	testutil.RequireUnresolved(s.T(), err, "wasi.fd_write")
}

func (s *EngineSuite) TestLoad_SignatureMismatch() {
	m := wasmgen.NewModule()
	m.ImportFunc("env", hostfuncs.ExtAddFunc, wasmgen.Func(wasmgen.Params(wasmgen.I64), wasmgen.I64))
	_, err := s.engine.Load(s.ctx, s.raw(m))
	var le *errors.LinkError
	s.Require().True(stdErrors.As(err, &le))
	s.Equal(hostfuncs.ExtAddFunc, le.Symbol)
}

func (s *EngineSuite) TestLoad_Invalid() {
	_, err := s.engine.Load(s.ctx, &entities.Module{Name: "empty"})
	s.Error(err)

	_, err = s.engine.Load(s.ctx, &entities.Module{Name: "junk", Wasm: []byte("not wasm")})
	var le *errors.LinkError
	s.True(stdErrors.As(err, &le))
}

func (s *EngineSuite) TestTraps() {
	m := wasmgen.NewModule()
	m.Memory(1, "")
	m.Func("oob", wasmgen.Func(nil, wasmgen.I64), nil, wasmgen.NewCode().I32Const(-16).I64Load(0))
	m.Func("trap", wasmgen.Func(nil), nil, wasmgen.NewCode().Unreachable())
	inst := s.instantiate(s.load(s.raw(m)))
	s.Zero(inst.Memory().Size(), "unexported memory is not visible to the host")

	_, err := inst.Call(s.ctx, "oob", nil)
	testutil.RequireTrap(s.T(), err, errors.TrapMemoryFault)

	_, err = inst.Call(s.ctx, "trap", nil)
	trap := testutil.RequireTrap(s.T(), err, errors.TrapUnreachable)
	s.Equal("trap", trap.Function)
}

func (s *EngineSuite) TestCall_Errors() {
	inst := s.guest(guests.CallByName())

	_, err := inst.Call(s.ctx, "missing", nil)
	var nf *errors.ExportNotFoundError
	s.True(stdErrors.As(err, &nf))

	_, err = inst.Call(s.ctx, AllocateExport, []uint64{8})
	s.True(stdErrors.As(err, &nf), "allocate is not an entry")

	_, err = inst.Call(s.ctx, "callAddPlusOne", []uint64{1})
	s.ErrorContains(err, "takes 2 arguments")
}

func (s *EngineSuite) TestInterrupt() {
	m := wasmgen.NewModule()
	m.Func("spin", wasmgen.Func(nil), nil, wasmgen.NewCode().Loop().Br(0).End())
	inst := s.instantiate(s.load(s.raw(m)))

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	exit, err := inst.Call(ctx, "spin", nil)
	s.ErrorIs(err, errors.ErrInterrupted)
	s.Equal(entities.ExceptionStopped, exit.Exception.Code)

	_, err = inst.Call(s.ctx, "spin", nil)
	s.ErrorIs(err, errors.ErrInstanceClosed)
	s.NoError(inst.Close(s.ctx))
}

func (s *EngineSuite) TestAlloc() {
	inst := s.guest(guests.MulDiv())
	a, err := inst.Alloc(s.ctx, 3)
	s.Require().NoError(err)
	b, err := inst.Alloc(s.ctx, 8)
	s.Require().NoError(err)
	s.Equal(a+8, b, "allocations are 8-byte aligned")

	m := wasmgen.NewModule()
	m.Func("f", wasmgen.Func(nil), nil, wasmgen.NewCode())
	noAlloc := s.instantiate(s.load(s.raw(m)))
	_, err = noAlloc.Alloc(s.ctx, 8)
	var nf *errors.ExportNotFoundError
	s.True(stdErrors.As(err, &nf))
}

func (s *EngineSuite) TestMemory() {
	inst := s.guest(guests.MulDiv())
	mem := inst.Memory()
	s.Equal(uint32(65536), mem.Size())

	s.Require().NoError(mem.WriteUint(16, 2, 0xbeef))
	v, err := mem.ReadUint(16, 2)
	s.Require().NoError(err)
	s.Equal(uint64(0xbeef), v)

	_, err = mem.Read(65530, 16)
	testutil.RequireOutOfRange(s.T(), err)
	testutil.RequireOutOfRange(s.T(), mem.WriteUint(0, 3, 1))

	m := wasmgen.NewModule()
	m.Func("f", wasmgen.Func(nil), nil, wasmgen.NewCode())
	bare := s.instantiate(s.load(s.raw(m)))
	s.Zero(bare.Memory().Size())
	_, err = bare.Memory().Read(0, 1)
	testutil.RequireOutOfRange(s.T(), err)
}

func (s *EngineSuite) TestConfigOptions() {
	cfg := entities.NewConfig(entities.WithMemorySize(100_000))
	c := defaultEngineConfig()
	for _, opt := range ConfigOptions(cfg) {
		opt(&c)
	}
	s.Equal(entities.DefaultHostModule, c.hostModule)
	s.Equal(uint32(2), c.memoryPages)
}
