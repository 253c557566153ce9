package host

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// Module is a loaded guest module. It is safe for concurrent use; each
// instance created from it has its own memory.
type Module struct {
	exec    *Executor
	module  *entities.Module
	program ports.Program
	exports []string
	seq     atomic.Uint64
}

func newModule(exec *Executor, mod *entities.Module, prog ports.Program) *Module {
	exports := slices.Clone(prog.Exports())
	slices.Sort(exports)
	return &Module{exec: exec, module: mod, program: prog, exports: exports}
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.module.Name
}

// Engine returns the backend the module runs on.
func (m *Module) Engine() entities.Engine {
	return m.module.Engine
}

// Manifest returns the module manifest, nil when the module was loaded
// without one.
func (m *Module) Manifest() *entities.Manifest {
	return m.module.Manifest
}

// Exports returns the callable entry names, sorted.
func (m *Module) Exports() []string {
	return slices.Clone(m.exports)
}

func (m *Module) exported(entry string) bool {
	_, found := slices.BinarySearch(m.exports, entry)
	return found
}

// entry returns the declared entry, if the manifest has one.
func (m *Module) entry(name string) (entities.EntrySpec, bool) {
	if m.module.Manifest == nil {
		return entities.EntrySpec{}, false
	}
	return m.module.Manifest.Entry(name)
}

// NewInstance creates an isolated instance of the module.
func (m *Module) NewInstance(ctx context.Context) (*Instance, error) {
	name := fmt.Sprintf("%s-%d", m.module.Name, m.seq.Add(1))
	inst, err := m.program.Instantiate(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", m.module.Name, err)
	}
	return newInstance(m, inst, name), nil
}

// Close releases the compiled program. Instances must be closed first.
func (m *Module) Close(ctx context.Context) error {
	return m.program.Close(ctx)
}
