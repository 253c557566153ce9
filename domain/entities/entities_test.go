package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionCode(t *testing.T) {
	assert.Equal(t, ExceptionCode(0x80000007), ExceptionStopped)
	assert.True(t, ExceptionStopped.Halted())
	assert.Equal(t, CauseInterrupted, ExceptionStopped.Cause())
	assert.Equal(t, "halted:interrupted", ExceptionStopped.String())
	assert.Equal(t, "none", CauseNone.String())
	assert.Equal(t, "halted:cause_99", (ExceptionHalted | 99).String())
}

func TestPerfCounters_Sub(t *testing.T) {
	end := PerfCounters{Cycles: 120, Commits: 40}
	assert.Equal(t, PerfCounters{Cycles: 20, Commits: 10}, end.Sub(PerfCounters{Cycles: 100, Commits: 30}))
}

func TestImage_Lookups(t *testing.T) {
	img := &Image{
		OffsetTable: &OffsetTable{
			FuncOffsets: map[string]int32{"b": 16, "a": 0, "c": 16},
			DataSymbols: map[string]DataSymbol{"data": {Offset: 4096, Size: 24}},
		},
		Machine:  &TargetMachine{Helpers: map[string]int32{"pe_yield": 100}},
		Platform: &HostPlatform{Helpers: map[string]int32{"extAdd": 2}, DataOffset: 4096},
	}

	off, ok := img.Function("b")
	require.True(t, ok)
	assert.Equal(t, int32(16), off)
	_, ok = img.Function("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"a", "b", "c"}, img.Functions())

	sym, ok := img.Symbol("data")
	require.True(t, ok)
	assert.Equal(t, uint32(24), sym.Size)

	name, ok := img.HelperName(2)
	require.True(t, ok)
	assert.Equal(t, "extAdd", name)
	name, ok = img.HelperName(100)
	require.True(t, ok)
	assert.Equal(t, "pe_yield", name)
	_, ok = img.HelperName(7)
	assert.False(t, ok)

	assert.Equal(t, uint32(4096), img.DataOffset())
}

func TestImage_NilSafe(t *testing.T) {
	var img *Image
	_, ok := img.Function("x")
	assert.False(t, ok)
	assert.Nil(t, img.Functions())
	assert.Zero(t, img.DataOffset())
}

func TestSignature_String(t *testing.T) {
	assert.Equal(t, "(i32, i32) -> i32", Sig([]ValueType{ValueTypeI32, ValueTypeI32}, ValueTypeI32).String())
	assert.Equal(t, "() -> ()", Sig(nil).String())
}

func TestValueType_Normalize(t *testing.T) {
	assert.Equal(t, uint64(0xffffffff), ValueTypeI32.Normalize(0xffffffffffffffff))
	assert.Equal(t, uint64(0xffffffffffffffff), ValueTypeI64.Normalize(0xffffffffffffffff))
}

func TestManifest_Lookups(t *testing.T) {
	m := &Manifest{
		Entries: []EntrySpec{{Name: "mul_div_u", NoReturn: true}},
		Data:    []DataSpec{{Name: "data", Width: 8, Length: 3}},
	}
	e, ok := m.Entry("mul_div_u")
	require.True(t, ok)
	assert.True(t, e.NoReturn)
	_, ok = m.Entry("nope")
	assert.False(t, ok)

	d, ok := m.Segment("data")
	require.True(t, ok)
	assert.Equal(t, 3, d.Length)

	var nilManifest *Manifest
	_, ok = nilManifest.Entry("x")
	assert.False(t, ok)
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(
		WithTimeout(time.Second),
		WithTimeout(-time.Second),
		WithInstructionBudget(42),
		WithStrictCompletion(true),
		WithLogLevel("debug"),
	)
	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, uint64(42), cfg.InstructionBudget)
	assert.True(t, cfg.StrictCompletion)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint32(DefaultMemorySize), cfg.MemorySize)
}

func TestCompletion_Accessors(t *testing.T) {
	c := &Completion{Result: 0xfffffffb}
	assert.Equal(t, int32(-5), c.Int32())
	assert.Zero(t, c.Duration())

	start := time.Unix(10, 0)
	c.Metadata = NewRunMetadata("i0", EngineWasm, start, time.Millisecond)
	assert.Equal(t, time.Millisecond, c.Duration())
	assert.Equal(t, "i0", c.Metadata.Instance)
	assert.Equal(t, start.Add(time.Millisecond), c.Metadata.EndTime())
}

func TestValidationResult(t *testing.T) {
	r := &ValidationResult{Valid: true}
	r.Add("engine", "required")
	r.Add("name", "required")
	assert.False(t, r.Valid)
	assert.Equal(t, "- engine: required\n- name: required", r.Summary())
}
