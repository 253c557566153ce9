package hostfuncs

import (
	"context"

	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// HostContext wraps a standard context.Context with host function-specific helpers.
// It provides access to the invoked function name and the calling guest's
// memory, and allows middleware to store request-scoped values without
// polluting the standard context.
type HostContext interface {
	context.Context

	// FunctionName returns the name of the host function being invoked.
	FunctionName() string

	// ModuleName returns the guest module making the call, if known.
	ModuleName() string

	// Memory returns the memory of the calling instance. It may be nil for
	// calls made outside a guest.
	Memory() ports.Memory

	// SetValue stores a request-scoped value. Unlike context.WithValue,
	// this mutates the existing HostContext for performance.
	SetValue(key, value any)

	// GetValue retrieves a request-scoped value set by SetValue.
	GetValue(key any) (value any, ok bool)
}

// hostContext is the concrete implementation of HostContext.
type hostContext struct {
	context.Context
	mem      ports.Memory
	values   map[any]any
	funcName string
}

// NewHostContext creates a new HostContext wrapping the given context.
func NewHostContext(ctx context.Context, funcName string, mem ports.Memory) HostContext {
	return &hostContext{
		Context:  ctx,
		funcName: funcName,
		mem:      mem,
		values:   make(map[any]any),
	}
}

// FunctionName returns the name of the host function being invoked.
func (c *hostContext) FunctionName() string {
	return c.funcName
}

// ModuleName returns the module name stored with WithModuleName.
func (c *hostContext) ModuleName() string {
	name, _ := ModuleNameFromContext(c.Context)
	return name
}

// Memory returns the calling instance's memory.
func (c *hostContext) Memory() ports.Memory {
	return c.mem
}

// SetValue stores a request-scoped value.
func (c *hostContext) SetValue(key, value any) {
	c.values[key] = value
}

// GetValue retrieves a request-scoped value.
func (c *hostContext) GetValue(key any) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// HostContextFrom extracts a HostContext from a context.Context.
// If the context is already a HostContext, it is returned directly.
// Otherwise, a new HostContext is created wrapping the given context.
func HostContextFrom(ctx context.Context, funcName string, mem ports.Memory) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, funcName, mem)
}

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var moduleNameKey = &contextKey{name: "module_name"}

// WithModuleName adds the calling module name to the context.
func WithModuleName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, moduleNameKey, name)
}

// ModuleNameFromContext retrieves the module name from the context.
func ModuleNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(moduleNameKey).(string)
	return name, ok
}
