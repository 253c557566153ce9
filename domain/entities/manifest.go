package entities

// Engine names the execution backend a guest module targets.
type Engine string

const (
	// EngineBPF runs linked wBPF images on a soft processing element.
	EngineBPF Engine = "bpf"

	// EngineWasm runs WebAssembly modules on wazero.
	EngineWasm Engine = "wasm"
)

// Manifest describes a guest module: its entries, data segments and the host
// functions it expects to import.
type Manifest struct {
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Version     string      `json:"version" yaml:"version" validate:"required"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Engine      Engine      `json:"engine" yaml:"engine" validate:"required,oneof=bpf wasm" jsonschema:"enum=bpf,enum=wasm"`
	Entries     []EntrySpec `json:"entries,omitempty" yaml:"entries,omitempty" validate:"dive"`
	Data        []DataSpec  `json:"data,omitempty" yaml:"data,omitempty" validate:"dive"`
	Imports     []string    `json:"imports,omitempty" yaml:"imports,omitempty" validate:"dive,required"`
}

// EntrySpec declares a guest entry callable through the trampoline.
type EntrySpec struct {
	Name    string      `json:"name" yaml:"name" validate:"required"`
	Params  []ValueType `json:"params,omitempty" yaml:"params,omitempty" validate:"max=5,dive,oneof=i32 i64"`
	Results []ValueType `json:"results,omitempty" yaml:"results,omitempty" validate:"max=1,dive,oneof=i32 i64"`

	// NoReturn marks entries that must end by calling the completion
	// primitive. Returning normally from such an entry is a trap.
	NoReturn bool `json:"noreturn,omitempty" yaml:"noreturn,omitempty"`
}

// DataSpec declares a data segment exported by the guest.
type DataSpec struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Width  int    `json:"width,omitempty" yaml:"width,omitempty" validate:"omitempty,oneof=1 2 4 8" jsonschema:"enum=1,enum=2,enum=4,enum=8"`
	Length int    `json:"length" yaml:"length" validate:"gt=0"`
}

// Entry returns the declared entry with the given name.
func (m *Manifest) Entry(name string) (EntrySpec, bool) {
	if m == nil {
		return EntrySpec{}, false
	}
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return EntrySpec{}, false
}

// Segment returns the declared data segment with the given name.
func (m *Manifest) Segment(name string) (DataSpec, bool) {
	if m == nil {
		return DataSpec{}, false
	}
	for _, d := range m.Data {
		if d.Name == name {
			return d, true
		}
	}
	return DataSpec{}, false
}

// Signature returns the entry signature.
func (e EntrySpec) Signature() Signature {
	return Signature{Params: e.Params, Results: e.Results}
}
