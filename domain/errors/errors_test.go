package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/datenlord/wbpf-userspace/domain/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnresolvedImportError(t *testing.T) {
	err := &UnresolvedImportError{Module: "callbyname", Name: "extAdd", From: "callAddPlusOne"}
	assert.Equal(t, `unresolved import "extAdd" in callbyname:callAddPlusOne`, err.Error())

	err = &UnresolvedImportError{Name: "extAdd"}
	assert.Equal(t, `unresolved import "extAdd"`, err.Error())

	detail := err.ToErrorDetail()
	assert.Equal(t, "link", detail.Type)
	assert.True(t, detail.IsNotFound)
}

func TestOutOfRangeError(t *testing.T) {
	err := &OutOfRangeError{Object: "segment data", Index: 3, Limit: 3}
	assert.Equal(t, "segment data index 3 out of range (limit 3)", err.Error())

	err = &OutOfRangeError{Object: "memory", Index: 65530, Count: 8, Limit: 65536}
	assert.Equal(t, "memory access [65530, 65538) out of range (limit 65536)", err.Error())
}

func TestNonTerminationError(t *testing.T) {
	err := &NonTerminationError{
		Module:   "spin",
		Entry:    "loop",
		Duration: 50 * time.Millisecond,
		Err:      context.DeadlineExceeded,
	}

	assert.Equal(t, "spin:loop did not complete within 50ms", err.Error())
	assert.True(t, err.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	detail := ToErrorDetail(fmt.Errorf("invoke: %w", err))
	assert.Equal(t, "timeout", detail.Type)
	assert.True(t, detail.IsTimeout)
}

func TestTrapError(t *testing.T) {
	err := &TrapError{
		Kind:     TrapDivisionByZero,
		Function: "mul_div_u",
		PC:       3,
		Code:     entities.ExceptionHalted | entities.CauseDivisionByZero,
	}

	assert.Equal(t, "guest trap: division_by_zero in mul_div_u at pc 3 (code 0x80000003)", err.Error())
	assert.ErrorIs(t, fmt.Errorf("invoke: %w", err), &TrapError{Kind: TrapDivisionByZero})
	assert.NotErrorIs(t, err, &TrapError{Kind: TrapMemoryFault})

	var trap *TrapError
	require.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &trap))
	assert.Equal(t, uint32(3), trap.PC)

	detail := err.ToErrorDetail()
	assert.Equal(t, "trap", detail.Type)
	assert.Equal(t, "division_by_zero", detail.Code)
	require.NotNil(t, detail.Exception)
	assert.Equal(t, uint32(3), detail.Exception.PC)
	assert.Equal(t, entities.CauseDivisionByZero, detail.Exception.Code.Cause())
	assert.Contains(t, detail.Error(), "[division_by_zero] at pc 3")
}

func TestTrapError_WrapsHostError(t *testing.T) {
	inner := &UnresolvedImportError{Name: "nope"}
	err := &TrapError{Kind: TrapHostFault, Function: "callByName", Err: inner}

	var unresolved *UnresolvedImportError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, "nope", unresolved.Name)

	detail := err.ToErrorDetail()
	require.NotNil(t, detail.Wrapped)
	assert.Equal(t, "link", detail.Wrapped.Type)
}

func TestKindForCause(t *testing.T) {
	tests := []struct {
		cause entities.ExceptionCode
		want  TrapKind
	}{
		{entities.CauseDivisionByZero, TrapDivisionByZero},
		{entities.CauseMemoryFault, TrapMemoryFault},
		{entities.CauseStackOverflow, TrapStackOverflow},
		{entities.CauseUnresolvedHelper, TrapUnresolvedHelper},
		{entities.CauseHostFault, TrapHostFault},
		{entities.CauseBudgetExhausted, TrapBudgetExhausted},
		{entities.CauseIllegalInstruction, TrapIllegalInstruction},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForCause(entities.ExceptionHalted|tt.cause))
		})
	}
}

func TestConfigError(t *testing.T) {
	baseErr := fmt.Errorf("must be >= 4096")
	err := &ConfigError{Field: "memory_size", Err: baseErr}

	assert.Equal(t, "config validation failed for field 'memory_size': must be >= 4096", err.Error())
	assert.True(t, errors.Is(err, baseErr))
}

func TestLinkError(t *testing.T) {
	err := &LinkError{Object: "muldiv", Symbol: "mul_div_u", Err: fmt.Errorf("duplicate")}
	assert.Equal(t, "link muldiv:mul_div_u: duplicate", err.Error())
	assert.Equal(t, "link: x", (&LinkError{Err: fmt.Errorf("x")}).Error())
}

func TestMemoryError(t *testing.T) {
	err := &MemoryError{Requested: 64, Current: 4064, Limit: 4096}
	assert.Contains(t, err.Error(), "requested 64 bytes")
	assert.Equal(t, "memory_limit", err.ToErrorDetail().Code)
}

func TestToErrorDetail(t *testing.T) {
	assert.Nil(t, ToErrorDetail(nil))

	detail := ToErrorDetail(fmt.Errorf("boom"))
	assert.Equal(t, "internal", detail.Type)
	assert.Equal(t, "boom", detail.Message)

	existing := entities.NewErrorDetail("config", "bad")
	assert.Same(t, existing, ToErrorDetail(fmt.Errorf("wrap: %w", existing)))
}
