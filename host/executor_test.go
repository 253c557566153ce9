package host_test

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/guests"
	"github.com/datenlord/wbpf-userspace/host"
	"github.com/datenlord/wbpf-userspace/hostfuncs"
	"github.com/datenlord/wbpf-userspace/internal/testutil"
)

func TestNewExecutor(t *testing.T) {
	ctx := context.Background()
	e, err := host.NewExecutor(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.DefaultConfig(), e.Config())
	assert.True(t, e.Registry().Has(hostfuncs.CompleteFunc))
	assert.NoError(t, e.Close(ctx))
}

func TestNewExecutor_InvalidConfig(t *testing.T) {
	cfg := entities.DefaultConfig()
	cfg.NumPE = 0
	_, err := host.NewExecutor(context.Background(), host.WithConfig(cfg))
	var ce *errors.ConfigError
	require.True(t, stdErrors.As(err, &ce), "got %v", err)
	assert.Equal(t, "num_pe", ce.Field)
}

func TestExecutor_Platform(t *testing.T) {
	exec := newExecutor(t, host.WithDataOffset(0x200))
	p := exec.Platform()
	assert.Equal(t, uint32(0x200), p.DataOffset)
	for _, name := range exec.Registry().Names() {
		idx, _, ok := exec.Registry().Lookup(name)
		require.True(t, ok)
		assert.Equal(t, idx, p.Helpers[name])
	}
}

func TestExecutor_Load(t *testing.T) {
	exec := newExecutor(t)
	ctx := context.Background()

	for _, engine := range engines {
		t.Run(string(engine), func(t *testing.T) {
			m := loadGuest(t, exec, guests.CallByNameGuest, engine)
			assert.Equal(t, guests.CallByNameGuest, m.Name())
			assert.Equal(t, engine, m.Engine())
			assert.Subset(t, m.Exports(), []string{"callAddPlusOne", "entry", "get_data", "set_data"})
			assert.NotContains(t, m.Exports(), "add", "local functions are not entries")
		})
	}

	t.Run("unresolved import", func(t *testing.T) {
		g, _ := guests.Lookup(guests.MulDivGuest)
		mod, err := g.Module(entities.EngineBPF, exec.Platform())
		require.NoError(t, err)
		mod.Manifest.Imports = append(mod.Manifest.Imports, "pe_yield")
		_, err = exec.Load(ctx, mod)
		testutil.RequireUnresolved(t, err, "pe_yield")
	})

	t.Run("declared entry missing", func(t *testing.T) {
		g, _ := guests.Lookup(guests.MulDivGuest)
		mod, err := g.Module(entities.EngineWasm, exec.Platform())
		require.NoError(t, err)
		mod.Manifest.Entries = append(mod.Manifest.Entries, entities.EntrySpec{Name: "mul_div_s"})
		_, err = exec.Load(ctx, mod)
		var nf *errors.ExportNotFoundError
		require.True(t, stdErrors.As(err, &nf), "got %v", err)
		assert.Equal(t, "mul_div_s", nf.Name)
	})

	t.Run("unknown engine", func(t *testing.T) {
		_, err := exec.Load(ctx, &entities.Module{Name: "x", Engine: "jvm"})
		assert.ErrorContains(t, err, "no engine")
	})
}

func TestExecutor_LoadUnresolvedHelper(t *testing.T) {
	// Linked against a platform with a helper this executor does not have.
	reg, err := hostfuncs.NewRegistry(hostfuncs.WithBundle(hostfuncs.CoreBundle()))
	require.NoError(t, err)
	small := newExecutor(t, host.WithHostFunctions(reg))

	full := newExecutor(t)
	g, _ := guests.Lookup(guests.CallByNameGuest)
	mod, err := g.Module(entities.EngineBPF, full.Platform())
	require.NoError(t, err)
	mod.Manifest.Imports = nil

	_, err = small.Load(context.Background(), mod)
	var ue *errors.UnresolvedImportError
	assert.True(t, stdErrors.As(err, &ue), "got %v", err)
}
