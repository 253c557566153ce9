package hostfuncs

import (
	stdErrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// Middleware is a function that wraps a Handler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
//
// Example usage:
//
//	tracing := func(next Handler) Handler {
//	    return func(hc HostContext, args []uint64) (uint64, error) {
//	        logger.Debug("invoking", zap.String("function", hc.FunctionName()))
//	        return next(hc, args)
//	    }
//	}
type Middleware func(next Handler) Handler

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*registryBuilder)

// PanicRecoveryMiddleware returns a middleware that catches panics and converts
// them into a host fault trap instead of crashing the host.
func PanicRecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(hc HostContext, args []uint64) (ret uint64, err error) {
			defer func() {
				if r := recover(); r != nil {
					ret = 0
					err = NewPanicError(hc.FunctionName(), r)
				}
			}()
			return next(hc, args)
		}
	}
}

// LoggingMiddleware returns a middleware that logs host function invocations
// at debug level and failures at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(hc HostContext, args []uint64) (uint64, error) {
			fields := []zap.Field{
				zap.String("function", hc.FunctionName()),
				zap.String("module", hc.ModuleName()),
			}
			logger.Debug("invoking host function", append(fields, zap.Int("args", len(args)))...)
			start := time.Now()
			ret, err := next(hc, args)
			fields = append(fields, zap.Duration("elapsed", time.Since(start)))
			switch {
			case err == nil:
				logger.Debug("host function returned", append(fields, zap.Uint64("ret", ret))...)
			case stdErrors.Is(err, errors.ErrGuestHalted):
				logger.Debug("host function halted guest", fields...)
			default:
				logger.Warn("host function failed", append(fields, zap.Error(err))...)
			}
			return ret, err
		}
	}
}

// ObserverMiddleware reports each finished call to fn.
func ObserverMiddleware(fn func(function string, elapsed time.Duration, err error)) Middleware {
	return func(next Handler) Handler {
		return func(hc HostContext, args []uint64) (uint64, error) {
			start := time.Now()
			ret, err := next(hc, args)
			fn(hc.FunctionName(), time.Since(start), err)
			return ret, err
		}
	}
}
