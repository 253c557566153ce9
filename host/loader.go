package host

import (
	"bytes"
	"fmt"
	"os"

	"github.com/datenlord/wbpf-userspace/application/validation"
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
	"github.com/datenlord/wbpf-userspace/infrastructure/imagestore"
	"github.com/datenlord/wbpf-userspace/infrastructure/parser"
)

var wasmMagic = []byte("\x00asm")

// loaderConfig holds configuration for the Loader.
type loaderConfig struct {
	parser    ports.ManifestParser
	validator ports.ManifestValidator
	documents ports.DocumentValidator
	templates ports.TemplateEngine
	vars      map[string]any
	table     ports.HostFunctionTable
}

func defaultLoaderConfig() loaderConfig {
	return loaderConfig{
		parser:    parser.NewYamlManifestParser(),
		validator: validation.NewManifestValidator(),
	}
}

// Loader orchestrates the manifest loading pipeline: render, schema check,
// parse, validate, resolve imports, decode code.
type Loader struct {
	config loaderConfig
}

// LoaderOption configures the Loader.
type LoaderOption func(*loaderConfig)

// WithRegistry checks manifest imports against table at load time.
func WithRegistry(table ports.HostFunctionTable) LoaderOption {
	return func(c *loaderConfig) {
		c.table = table
	}
}

// WithParser sets a custom manifest parser.
func WithParser(p ports.ManifestParser) LoaderOption {
	return func(c *loaderConfig) {
		c.parser = p
	}
}

// WithValidator replaces the struct validator. Nil disables validation.
func WithValidator(v ports.ManifestValidator) LoaderOption {
	return func(c *loaderConfig) {
		c.validator = v
	}
}

// WithDocumentValidator validates the raw document against the manifest
// JSON Schema before parsing.
func WithDocumentValidator(v ports.DocumentValidator) LoaderOption {
	return func(c *loaderConfig) {
		c.documents = v
	}
}

// WithTemplateEngine renders manifests with vars before parsing.
func WithTemplateEngine(t ports.TemplateEngine, vars map[string]any) LoaderOption {
	return func(c *loaderConfig) {
		c.templates = t
		c.vars = vars
	}
}

// NewLoader creates a new Loader with defaults.
func NewLoader(opts ...LoaderOption) *Loader {
	cfg := defaultLoaderConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{config: cfg}
}

// LoadManifest loads, parses, and validates a guest manifest.
func (l *Loader) LoadManifest(raw []byte) (*entities.Manifest, error) {
	data := raw
	if l.config.templates != nil {
		var err error
		data, err = l.config.templates.Render(raw, l.config.vars)
		if err != nil {
			return nil, fmt.Errorf("failed to render manifest: %w", err)
		}
	}

	if l.config.documents != nil {
		res, err := l.config.documents.ValidateDocument(data)
		if err != nil {
			return nil, fmt.Errorf("failed to validate manifest document: %w", err)
		}
		if !res.Valid {
			return nil, &errors.SchemaError{Type: "manifest", Err: fmt.Errorf("document does not match schema:\n%s", res.Summary())}
		}
	}

	manifest, err := l.config.parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if l.config.validator != nil {
		res, err := l.config.validator.Validate(manifest)
		if err != nil {
			return nil, fmt.Errorf("validation error: %w", err)
		}
		if !res.Valid {
			return nil, &errors.SchemaError{Type: "manifest", Err: fmt.Errorf("manifest validation failed:\n%s", res.Summary())}
		}
	}

	if l.config.table != nil {
		for _, name := range manifest.Imports {
			if _, _, ok := l.config.table.Lookup(name); !ok {
				return nil, &errors.UnresolvedImportError{Module: manifest.Name, Name: name}
			}
		}
	}
	return manifest, nil
}

// LoadModule builds a module from a manifest and its code: image JSON for
// bpf guests, a WebAssembly binary for wasm guests.
func (l *Loader) LoadModule(rawManifest, code []byte) (*entities.Module, error) {
	manifest, err := l.LoadManifest(rawManifest)
	if err != nil {
		return nil, err
	}
	mod := &entities.Module{Name: manifest.Name, Engine: manifest.Engine, Manifest: manifest}
	switch manifest.Engine {
	case entities.EngineBPF:
		img, err := imagestore.Decode(code)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", manifest.Name, err)
		}
		mod.Image = img
	case entities.EngineWasm:
		if !bytes.HasPrefix(code, wasmMagic) {
			return nil, fmt.Errorf("load %s: code is not a WebAssembly binary", manifest.Name)
		}
		mod.Wasm = code
	default:
		return nil, fmt.Errorf("load %s: unknown engine %q", manifest.Name, manifest.Engine)
	}
	return mod, nil
}

// LoadFiles reads a manifest and its code from disk.
func (l *Loader) LoadFiles(manifestPath, codePath string) (*entities.Module, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	code, err := os.ReadFile(codePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read code: %w", err)
	}
	return l.LoadModule(raw, code)
}
