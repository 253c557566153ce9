package wazero

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/datenlord/wbpf-userspace/domain/errors"
	"github.com/datenlord/wbpf-userspace/domain/ports"
)

// valueTypes maps guest-visible types to wazero value types.
func valueTypes(types []entities.ValueType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		if t == entities.ValueTypeI64 {
			out[i] = api.ValueTypeI64
		} else {
			out[i] = api.ValueTypeI32
		}
	}
	return out
}

// registerHostModule instantiates a host module named moduleName exporting
// every function of table with its declared signature.
//
// Each function is wrapped to:
//   - copy its arguments off the wazero stack, truncating i32 values
//   - dispatch through the table with a bounds-checked view of the caller's memory
//   - write the normalized result back to the stack
//
// Handler errors unwind the guest with panic(err). wazero wraps the panic
// value with %w, so errors.Is(err, errors.ErrGuestHalted) holds on the
// error returned from the guest call.
func registerHostModule(ctx context.Context, rt wazero.Runtime, table ports.HostFunctionTable, moduleName string) error {
	builder := rt.NewHostModuleBuilder(moduleName)
	for _, name := range table.Names() {
		idx, sig, ok := table.Lookup(name)
		if !ok {
			return fmt.Errorf("host function %q vanished from table", name)
		}
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hostCall(table, name, idx, sig), valueTypes(sig.Params), valueTypes(sig.Results)).
			WithName(name).
			Export(name)
	}
	_, err := builder.Instantiate(ctx)
	return err
}

func hostCall(table ports.HostFunctionTable, name string, idx int32, sig entities.Signature) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		args := make([]uint64, len(sig.Params))
		for i, t := range sig.Params {
			args[i] = t.Normalize(stack[i])
		}
		res, err := table.Call(ctx, newMemory(moduleMemory(mod)), idx, args)
		if err != nil {
			if !stdErrors.Is(err, errors.ErrGuestHalted) {
				Logger().Debug("host function failed", zap.String("function", name), zap.Error(err))
				var trap *errors.TrapError
				if !stdErrors.As(err, &trap) {
					err = &errors.TrapError{Kind: errors.TrapHostFault, Function: name, Err: err}
				}
			}
			panic(err)
		}
		if len(sig.Results) > 0 {
			stack[0] = sig.Results[0].Normalize(res)
		}
	}
}
