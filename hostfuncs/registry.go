package hostfuncs

import (
	"context"
	"fmt"
	"sort"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// FirstHelperIndex is the helper index of the first function in name order.
// Index zero is never assigned.
const FirstHelperIndex int32 = 1

// Registry is an immutable collection of named host functions resolved into
// an indexable table. Once created via NewRegistry, functions cannot be added
// or removed. This ensures thread safety and lock-free lookups during execution.
type Registry struct {
	index      map[string]int32
	funcs      []HostFunction // funcs[i] has helper index FirstHelperIndex+i
	names      []string       // sorted for consistent iteration
	middleware []Middleware
}

var _ ports.HostFunctionTable = (*Registry)(nil)

// registryBuilder accumulates configuration during registry construction.
type registryBuilder struct {
	funcs      map[string]HostFunction
	middleware []Middleware
	errors     []error
}

// NewRegistry creates an immutable Registry with the given options.
// Returns an error if any function name is registered twice.
//
// Example usage:
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithBundle(CoreBundle()),
//	    WithFunction(NewFunction("custom", sig, handler)),
//	)
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	b := &registryBuilder{
		funcs: make(map[string]HostFunction),
	}

	for _, opt := range opts {
		opt(b)
	}

	if len(b.errors) > 0 {
		return nil, b.errors[0] // Return first error
	}

	names := make([]string, 0, len(b.funcs))
	for name := range b.funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	r := &Registry{
		index:      make(map[string]int32, len(names)),
		funcs:      make([]HostFunction, len(names)),
		names:      names,
		middleware: b.middleware,
	}
	for i, name := range names {
		fn := b.funcs[name]
		// Apply middleware in reverse order so first middleware wraps outermost
		for j := len(b.middleware) - 1; j >= 0; j-- {
			fn.Handler = b.middleware[j](fn.Handler)
		}
		r.funcs[i] = fn
		r.index[name] = FirstHelperIndex + int32(i)
	}
	return r, nil
}

// Has returns true if a function with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

// Names returns a sorted list of all registered function names.
func (r *Registry) Names() []string {
	result := make([]string, len(r.names))
	copy(result, r.names)
	return result
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// Lookup resolves a name to its helper index and signature.
func (r *Registry) Lookup(name string) (int32, entities.Signature, bool) {
	idx, ok := r.index[name]
	if !ok {
		return 0, entities.Signature{}, false
	}
	return idx, r.funcs[idx-FirstHelperIndex].Signature, true
}

// Describe resolves a helper index to its name and signature.
func (r *Registry) Describe(index int32) (string, entities.Signature, bool) {
	fn, ok := r.at(index)
	if !ok {
		return "", entities.Signature{}, false
	}
	return fn.Name, fn.Signature, true
}

// Call dispatches a host function call by helper index.
func (r *Registry) Call(ctx context.Context, mem ports.Memory, index int32, args []uint64) (uint64, error) {
	fn, ok := r.at(index)
	if !ok {
		return 0, &errors.UnresolvedImportError{
			Module: moduleName(ctx),
			Name:   fmt.Sprintf("helper#%d", index),
		}
	}
	return fn.Handler(NewHostContext(ctx, fn.Name, mem), args)
}

// Invoke dispatches a host function call by name.
func (r *Registry) Invoke(ctx context.Context, mem ports.Memory, name string, args []uint64) (uint64, error) {
	idx, ok := r.index[name]
	if !ok {
		return 0, &errors.UnresolvedImportError{Module: moduleName(ctx), Name: name}
	}
	return r.Call(ctx, mem, idx, args)
}

// Resolve checks that every import is provided and reports the first one
// that is not.
func (r *Registry) Resolve(module string, imports []string) error {
	for _, name := range imports {
		if !r.Has(name) {
			return &errors.UnresolvedImportError{Module: module, Name: name}
		}
	}
	return nil
}

// Platform returns the helper table the linker resolves calls against.
func (r *Registry) Platform(dataOffset uint32) *entities.HostPlatform {
	helpers := make(map[string]int32, len(r.index))
	for name, idx := range r.index {
		helpers[name] = idx
	}
	return &entities.HostPlatform{Helpers: helpers, DataOffset: dataOffset}
}

func (r *Registry) at(index int32) (HostFunction, bool) {
	i := int(index - FirstHelperIndex)
	if i < 0 || i >= len(r.funcs) {
		return HostFunction{}, false
	}
	return r.funcs[i], true
}

func moduleName(ctx context.Context) string {
	name, _ := ModuleNameFromContext(ctx)
	return name
}

// addFunction registers a host function.
// Returns an error if the name is already registered.
func (b *registryBuilder) addFunction(fn HostFunction) error {
	if fn.Name == "" {
		return fmt.Errorf("host function name cannot be empty")
	}
	if fn.Handler == nil {
		return fmt.Errorf("host function %q has no handler", fn.Name)
	}
	if _, exists := b.funcs[fn.Name]; exists {
		return fmt.Errorf("duplicate host function name: %q", fn.Name)
	}
	b.funcs[fn.Name] = fn
	return nil
}

// WithFunction registers a single host function.
func WithFunction(fn HostFunction) RegistryOption {
	return func(b *registryBuilder) {
		if err := b.addFunction(fn); err != nil {
			b.errors = append(b.errors, err)
		}
	}
}

// WithHandler registers a handler under name with the given signature.
func WithHandler(name string, sig entities.Signature, h Handler) RegistryOption {
	return WithFunction(NewFunction(name, sig, h))
}

// WithMiddleware adds middleware to the registry.
// Middleware executes in FIFO order (first added wraps first).
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
