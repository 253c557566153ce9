package hostfuncs

import (
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// Names of the built-in host functions.
const (
	CompleteFunc   = "wbpf_host_complete"
	ExtAddFunc     = "extAdd"
	CallByNameFunc = "callByName"
	AESEncryptFunc = "aes_cbc_encrypt"
	AESDecryptFunc = "aes_cbc_decrypt"
	LogFunc        = "wbpf_log"
)

// HostFuncBundle is a pre-configured set of related host functions.
// Bundles allow registering multiple functions at once for common use cases.
type HostFuncBundle interface {
	// Functions returns the host functions of the bundle.
	Functions() []HostFunction
}

// staticBundle implements HostFuncBundle with a fixed set of functions.
type staticBundle struct {
	funcs []HostFunction
}

func (b *staticBundle) Functions() []HostFunction {
	return b.funcs
}

// CoreBundle returns the completion primitive: wbpf_host_complete.
func CoreBundle() HostFuncBundle {
	return &staticBundle{
		funcs: []HostFunction{
			NewFunction(CompleteFunc, entities.Sig(nil), Complete),
		},
	}
}

// ArithBundle returns host arithmetic helpers: extAdd.
func ArithBundle() HostFuncBundle {
	return &staticBundle{
		funcs: []HostFunction{
			NewFunction(ExtAddFunc, entities.Sig(params(i32, i32), i32), ExtAdd),
		},
	}
}

// compositeBundle combines multiple bundles into one.
type compositeBundle struct {
	bundles []HostFuncBundle
}

func (b *compositeBundle) Functions() []HostFunction {
	var result []HostFunction
	for _, bundle := range b.bundles {
		result = append(result, bundle.Functions()...)
	}
	return result
}

// Combine merges bundles. Duplicate names surface when the registry is built.
func Combine(bundles ...HostFuncBundle) HostFuncBundle {
	return &compositeBundle{bundles: bundles}
}

// StandardBundle returns every built-in host function: the completion
// primitive, extAdd, callByName with the given routines, AES-CBC and guest
// logging through logger.
func StandardBundle(logger *zap.Logger, opts ...NamedOption) HostFuncBundle {
	return Combine(
		CoreBundle(),
		ArithBundle(),
		NamedBundle(opts...),
		CryptoBundle(),
		LogBundle(logger),
	)
}

// WithBundle registers all functions from a bundle.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		for _, fn := range bundle.Functions() {
			if err := b.addFunction(fn); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}
