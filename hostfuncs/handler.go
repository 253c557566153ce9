package hostfuncs

import (
	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// Handler is the Go implementation of a host function. Arguments arrive as
// raw 64-bit values in declaration order; 32-bit parameters occupy the low
// half. The returned value is ignored for functions without results.
type Handler func(hc HostContext, args []uint64) (uint64, error)

// HostFunction is a named host function with its guest-visible signature.
type HostFunction struct {
	Handler   Handler
	Name      string
	Signature entities.Signature
}

// NewFunction builds a HostFunction.
func NewFunction(name string, sig entities.Signature, h Handler) HostFunction {
	return HostFunction{Name: name, Signature: sig, Handler: h}
}

// Arg returns args[i] or zero if the guest passed fewer arguments.
func Arg(args []uint64, i int) uint64 {
	if i < len(args) {
		return args[i]
	}
	return 0
}

// ArgInt32 returns args[i] interpreted as a signed 32-bit value.
func ArgInt32(args []uint64, i int) int32 {
	return int32(uint32(Arg(args, i)))
}

// ArgPtr returns args[i] as a guest address.
func ArgPtr(args []uint64, i int) uint32 {
	return uint32(Arg(args, i))
}

var (
	i32 = entities.ValueTypeI32
	i64 = entities.ValueTypeI64
)

func params(types ...entities.ValueType) []entities.ValueType {
	return types
}
