// Package extractor reports the host functions a guest module references.
package extractor

import (
	"context"
	"fmt"
	"sort"

	"github.com/cilium/ebpf/asm"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/internal/isa"
)

// Import is one host function referenced by a guest.
type Import struct {
	Name string `json:"name"`

	// Module is the wasm import module; empty for wBPF images.
	Module string `json:"module,omitempty"`

	// Sites counts the helper call instructions in a wBPF image. A wasm
	// import always counts as one site.
	Sites int `json:"sites"`

	// Signature is filled from the host function table when one is
	// configured, or from the wasm import type.
	Signature entities.Signature `json:"signature"`

	// Resolved reports whether the host function table provides Name.
	// Without a table it is always false.
	Resolved bool `json:"resolved"`
}

// ImportExtractor lists the host functions a module imports.
type ImportExtractor struct {
	table ports.HostFunctionTable
}

// ImportExtractorOption configures the ImportExtractor.
type ImportExtractorOption func(*ImportExtractor)

// WithTable resolves extracted imports against table.
func WithTable(table ports.HostFunctionTable) ImportExtractorOption {
	return func(e *ImportExtractor) {
		e.table = table
	}
}

// NewImportExtractor creates a new ImportExtractor.
func NewImportExtractor(opts ...ImportExtractorOption) *ImportExtractor {
	e := &ImportExtractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract returns the imports of mod sorted by name.
func (e *ImportExtractor) Extract(ctx context.Context, mod *entities.Module) ([]Import, error) {
	if mod == nil {
		return nil, fmt.Errorf("module is required")
	}
	var (
		imports []Import
		err     error
	)
	switch mod.Engine {
	case entities.EngineBPF:
		imports, err = e.fromImage(mod.Image)
	case entities.EngineWasm:
		imports, err = e.fromWasm(ctx, mod.Wasm)
	default:
		return nil, fmt.Errorf("unknown engine %q", mod.Engine)
	}
	if err != nil {
		return nil, fmt.Errorf("extract imports of %s: %w", mod.Name, err)
	}
	for n := range imports {
		e.resolve(&imports[n])
	}
	sort.Slice(imports, func(i, j int) bool { return imports[i].Name < imports[j].Name })
	return imports, nil
}

// ExtractNames returns just the sorted import names.
func (e *ImportExtractor) ExtractNames(ctx context.Context, mod *entities.Module) ([]string, error) {
	imports, err := e.Extract(ctx, mod)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(imports))
	for i, imp := range imports {
		names[i] = imp.Name
	}
	return names, nil
}

func (e *ImportExtractor) resolve(imp *Import) {
	if e.table == nil {
		return
	}
	if _, sig, ok := e.table.Lookup(imp.Name); ok {
		imp.Signature = sig
		imp.Resolved = true
	}
}

func (e *ImportExtractor) fromImage(img *entities.Image) ([]Import, error) {
	if img == nil {
		return nil, fmt.Errorf("no image")
	}
	insns, err := isa.Decode(img.Code)
	if err != nil {
		return nil, err
	}
	sites := make(map[string]int)
	for _, ins := range insns {
		if ins.OpCode.Class() != asm.JumpClass || ins.OpCode.JumpOp() != asm.Call || ins.Src == asm.PseudoCall {
			continue
		}
		name, ok := img.HelperName(int32(ins.Constant))
		if !ok {
			name = fmt.Sprintf("helper#%d", ins.Constant)
		}
		sites[name]++
	}
	imports := make([]Import, 0, len(sites))
	for name, n := range sites {
		imports = append(imports, Import{Name: name, Sites: n})
	}
	return imports, nil
}

func (e *ImportExtractor) fromWasm(ctx context.Context, bin []byte) ([]Import, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}
	defer compiled.Close(ctx)

	var imports []Import
	for _, def := range compiled.ImportedFunctions() {
		module, name, _ := def.Import()
		imports = append(imports, Import{
			Name:   name,
			Module: module,
			Sites:  1,
			Signature: entities.Signature{
				Params:  fromValueTypes(def.ParamTypes()),
				Results: fromValueTypes(def.ResultTypes()),
			},
		})
	}
	return imports, nil
}

func fromValueTypes(types []api.ValueType) []entities.ValueType {
	if len(types) == 0 {
		return nil
	}
	out := make([]entities.ValueType, len(types))
	for i, t := range types {
		if t == api.ValueTypeI64 {
			out[i] = entities.ValueTypeI64
		} else {
			out[i] = entities.ValueTypeI32
		}
	}
	return out
}
