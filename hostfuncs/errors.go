package hostfuncs

import (
	"fmt"

	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// NewHostFault wraps a handler failure as a host fault trap.
func NewHostFault(function string, err error) *errors.TrapError {
	return &errors.TrapError{Kind: errors.TrapHostFault, Function: function, Err: err}
}

// NewPanicError creates a host fault for a recovered panic.
func NewPanicError(function string, panicValue any) *errors.TrapError {
	var msg string
	if err, ok := panicValue.(error); ok {
		msg = err.Error()
	} else if s, ok := panicValue.(string); ok {
		msg = s
	} else {
		msg = "panic recovered"
	}
	return NewHostFault(function, fmt.Errorf("panic: %s", msg))
}

// NewValidationError creates a host fault for bad guest arguments.
func NewValidationError(function, format string, args ...any) *errors.TrapError {
	return NewHostFault(function, fmt.Errorf(format, args...))
}
