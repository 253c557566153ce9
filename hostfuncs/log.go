package hostfuncs

import (
	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// LogBundle returns the guest logging helper: wbpf_log(ptr, len). Messages
// longer than DefaultMaxLogSize are truncated.
func LogBundle(logger *zap.Logger) HostFuncBundle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &staticBundle{
		funcs: []HostFunction{
			NewFunction(LogFunc, entities.Sig(params(i32, i32)), guestLog(logger)),
		},
	}
}

func guestLog(logger *zap.Logger) Handler {
	return func(hc HostContext, args []uint64) (uint64, error) {
		mem := hc.Memory()
		if mem == nil {
			return 0, NewValidationError(hc.FunctionName(), "no guest memory")
		}
		ptr, n := ArgPtr(args, 0), ArgPtr(args, 1)
		if n > DefaultMaxLogSize {
			n = DefaultMaxLogSize + 1
		}
		data, err := mem.Read(ptr, n)
		if err != nil {
			return 0, NewHostFault(hc.FunctionName(), err)
		}
		buf := NewBoundedBuffer(DefaultMaxLogSize)
		_, _ = buf.Write(data)
		logger.Info("guest log",
			zap.String("module", hc.ModuleName()),
			zap.String("msg", buf.String()),
			zap.Bool("truncated", buf.Truncated),
		)
		return 0, nil
	}
}
