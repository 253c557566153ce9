package hostfuncs

import (
	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// NamedRoutine is a host routine reachable from guests through callByName.
type NamedRoutine func(hc HostContext) (int64, error)

// namedConfig holds configuration for the callByName host function.
type namedConfig struct {
	routines      map[string]NamedRoutine
	sentinel      *int64
	maxNameLength int
}

func defaultNamedConfig() namedConfig {
	return namedConfig{
		routines:      make(map[string]NamedRoutine),
		maxNameLength: DefaultMaxNameLength,
	}
}

// NamedOption configures NamedBundle.
type NamedOption func(*namedConfig)

// WithNamedRoutine makes fn callable by name from guests.
func WithNamedRoutine(name string, fn NamedRoutine) NamedOption {
	return func(c *namedConfig) {
		c.routines[name] = fn
	}
}

// WithNamedValue registers a routine that always returns v.
func WithNamedValue(name string, v int64) NamedOption {
	return WithNamedRoutine(name, func(HostContext) (int64, error) { return v, nil })
}

// WithLookupSentinel makes unknown names return v instead of faulting the guest.
func WithLookupSentinel(v int64) NamedOption {
	return func(c *namedConfig) {
		c.sentinel = &v
	}
}

// WithMaxNameLength bounds the length of names read from guest memory.
func WithMaxNameLength(n int) NamedOption {
	return func(c *namedConfig) {
		if n > 0 {
			c.maxNameLength = n
		}
	}
}

// NamedBundle returns the dynamic lookup host function: callByName.
func NamedBundle(opts ...NamedOption) HostFuncBundle {
	cfg := defaultNamedConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &staticBundle{
		funcs: []HostFunction{
			NewFunction(CallByNameFunc, entities.Sig(params(i32), i64), cfg.callByName),
		},
	}
}

// callByName reads a NUL-terminated routine name from guest memory and runs
// the routine registered under it.
func (c namedConfig) callByName(hc HostContext, args []uint64) (uint64, error) {
	name, err := ReadCString(hc.Memory(), ArgPtr(args, 0), c.maxNameLength)
	if err != nil {
		return 0, NewHostFault(hc.FunctionName(), err)
	}
	fn, ok := c.routines[name]
	if !ok {
		if c.sentinel != nil {
			return uint64(*c.sentinel), nil
		}
		return 0, NewHostFault(hc.FunctionName(), &errors.UnresolvedImportError{Module: hc.ModuleName(), Name: name})
	}
	v, err := fn(hc)
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}
