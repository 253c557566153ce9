package entities

// Module is a loaded guest module. It is immutable once produced by the loader.
type Module struct {
	Manifest *Manifest
	Image    *Image
	Name     string
	Engine   Engine
	Wasm     []byte
}

// Imports returns the host functions the manifest declares.
func (m *Module) Imports() []string {
	if m.Manifest == nil {
		return nil
	}
	out := make([]string, len(m.Manifest.Imports))
	copy(out, m.Manifest.Imports)
	return out
}
