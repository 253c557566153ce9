// Package testutil provides common test utilities and assertions for wbpf tests.
package testutil

import (
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datenlord/wbpf-userspace/domain/errors"
)

// RequireTrap asserts that err is a guest trap of the given kind and returns it.
func RequireTrap(t *testing.T, err error, kind errors.TrapKind, msgAndArgs ...interface{}) *errors.TrapError {
	t.Helper()
	var trap *errors.TrapError
	require.True(t, stdErrors.As(err, &trap), "expected *errors.TrapError, got %v", err)
	assert.Equal(t, kind, trap.Kind, msgAndArgs...)
	return trap
}

// RequireOutOfRange asserts that err is an out-of-range access error.
func RequireOutOfRange(t *testing.T, err error, msgAndArgs ...interface{}) *errors.OutOfRangeError {
	t.Helper()
	var oor *errors.OutOfRangeError
	require.True(t, stdErrors.As(err, &oor), "expected *errors.OutOfRangeError, got %v", err)
	return oor
}

// RequireUnresolved asserts that err reports the named unresolved import.
func RequireUnresolved(t *testing.T, err error, name string, msgAndArgs ...interface{}) *errors.UnresolvedImportError {
	t.Helper()
	var ue *errors.UnresolvedImportError
	require.True(t, stdErrors.As(err, &ue), "expected *errors.UnresolvedImportError, got %v", err)
	assert.Equal(t, name, ue.Name, msgAndArgs...)
	return ue
}

// RequireNonTermination asserts that err is a watchdog expiry.
func RequireNonTermination(t *testing.T, err error, msgAndArgs ...interface{}) *errors.NonTerminationError {
	t.Helper()
	var nt *errors.NonTerminationError
	require.True(t, stdErrors.As(err, &nt), "expected *errors.NonTerminationError, got %v", err)
	return nt
}

// Int32Args packs 32-bit guest arguments into raw values.
func Int32Args(vals ...int32) []uint64 {
	out := make([]uint64, len(vals))
	for i, v := range vals {
		out[i] = uint64(uint32(v))
	}
	return out
}
