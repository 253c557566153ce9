// Package errors provides the error taxonomy of the host runtime.
// All error types support error unwrapping via errors.As() and errors.Is().
package errors

import (
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/datenlord/wbpf-userspace/domain/entities"
)

// ErrorDetail is an alias to entities.ErrorDetail for convenience.
type ErrorDetail = entities.ErrorDetail

// ErrGuestHalted is returned by the completion primitive. Engines unwind the
// guest when a host function returns it and report the call as completed.
var ErrGuestHalted = stdErrors.New("guest halted by completion primitive")

// ErrInterrupted is returned by engines when execution was stopped from the
// outside before the guest halted.
var ErrInterrupted = stdErrors.New("guest interrupted")

// ErrInstanceClosed is returned when invoking an instance that was closed.
var ErrInstanceClosed = stdErrors.New("instance closed")

// DetailedError is an interface for custom error types that can convert themselves
// to a structured ErrorDetail.
type DetailedError interface {
	error
	ToErrorDetail() *entities.ErrorDetail
}

// ToErrorDetail converts a Go error to our structured ErrorDetail.
// This function recognizes custom error types and categorizes them appropriately.
func ToErrorDetail(err error) *entities.ErrorDetail {
	if err == nil {
		return nil
	}

	var e *entities.ErrorDetail
	if stdErrors.As(err, &e) {
		return e
	}

	var de DetailedError
	if stdErrors.As(err, &de) {
		return de.ToErrorDetail()
	}

	return &entities.ErrorDetail{
		Message: err.Error(),
		Type:    entities.ErrorTypeInternal,
	}
}

// UnresolvedImportError is returned when a guest references a host function
// that the host function table does not provide.
type UnresolvedImportError struct {
	Module string
	Name   string
	From   string // referencing function, when known
}

func (e *UnresolvedImportError) Error() string {
	switch {
	case e.From != "" && e.Module != "":
		return fmt.Sprintf("unresolved import %q in %s:%s", e.Name, e.Module, e.From)
	case e.Module != "":
		return fmt.Sprintf("unresolved import %q in module %s", e.Name, e.Module)
	default:
		return fmt.Sprintf("unresolved import %q", e.Name)
	}
}

// ToErrorDetail implements DetailedError.
func (e *UnresolvedImportError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeLink, Code: e.Name, IsNotFound: true}
}

// ExportNotFoundError is returned when invoking an entry the guest does not export.
type ExportNotFoundError struct {
	Module string
	Name   string
}

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("module %s does not export %q", e.Module, e.Name)
}

// ToErrorDetail implements DetailedError.
func (e *ExportNotFoundError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeLink, Code: "export_not_found", IsNotFound: true}
}

// OutOfRangeError is returned by host-side accessors for an index or address
// outside the bounds of the accessed object.
type OutOfRangeError struct {
	Object string
	Index  uint64
	Count  uint64
	Limit  uint64
}

func (e *OutOfRangeError) Error() string {
	if e.Count > 1 {
		return fmt.Sprintf("%s access [%d, %d) out of range (limit %d)", e.Object, e.Index, e.Index+e.Count, e.Limit)
	}
	return fmt.Sprintf("%s index %d out of range (limit %d)", e.Object, e.Index, e.Limit)
}

// ToErrorDetail implements DetailedError.
func (e *OutOfRangeError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeBounds, Code: "out_of_range"}
}

// NonTerminationError is returned when the watchdog stops a guest that did
// not complete within its time limit.
type NonTerminationError struct {
	Err      error
	Module   string
	Entry    string
	Duration time.Duration
}

func (e *NonTerminationError) Error() string {
	return fmt.Sprintf("%s:%s did not complete within %v", e.Module, e.Entry, e.Duration)
}

func (e *NonTerminationError) Unwrap() error {
	return e.Err
}

func (e *NonTerminationError) Timeout() bool {
	return true
}

// ToErrorDetail implements DetailedError.
func (e *NonTerminationError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeTimeout, Code: "non_termination", IsTimeout: true}
}

// TrapKind classifies a guest fault.
type TrapKind string

const (
	TrapDivisionByZero          TrapKind = "division_by_zero"
	TrapMemoryFault             TrapKind = "memory_fault"
	TrapIllegalInstruction      TrapKind = "illegal_instruction"
	TrapStackOverflow           TrapKind = "stack_overflow"
	TrapUnresolvedHelper        TrapKind = "unresolved_helper"
	TrapHostFault               TrapKind = "host_fault"
	TrapBudgetExhausted         TrapKind = "budget_exhausted"
	TrapReturnWithoutCompletion TrapKind = "return_without_completion"
	TrapUnreachable             TrapKind = "unreachable"
)

// TrapError is a fault raised while the guest was running.
type TrapError struct {
	Err  error
	Kind TrapKind
	// Function is the guest function or host function involved, when known.
	Function string
	PC       uint32
	Code     entities.ExceptionCode
}

func (e *TrapError) Error() string {
	msg := fmt.Sprintf("guest trap: %s", e.Kind)
	if e.Function != "" {
		msg += " in " + e.Function
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" at pc %d (code %#x)", e.PC, uint32(e.Code))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TrapError) Unwrap() error {
	return e.Err
}

// Is matches another TrapError of the same kind, so errors.Is(err,
// &TrapError{Kind: TrapDivisionByZero}) works.
func (e *TrapError) Is(target error) bool {
	t, ok := target.(*TrapError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Function == "" && t.Err == nil && t.Code == 0
}

// ToErrorDetail implements DetailedError.
func (e *TrapError) ToErrorDetail() *entities.ErrorDetail {
	detail := &entities.ErrorDetail{
		Message: e.Error(),
		Type:    entities.ErrorTypeTrap,
		Code:    string(e.Kind),
	}
	detail.WithException(entities.ExceptionState{PC: e.PC, Code: e.Code})
	if e.Err != nil {
		detail.Wrapped = ToErrorDetail(e.Err)
	}
	return detail
}

// KindForCause maps a processing element exception cause to a trap kind.
func KindForCause(code entities.ExceptionCode) TrapKind {
	switch code.Cause() {
	case entities.CauseDivisionByZero:
		return TrapDivisionByZero
	case entities.CauseMemoryFault:
		return TrapMemoryFault
	case entities.CauseStackOverflow:
		return TrapStackOverflow
	case entities.CauseUnresolvedHelper:
		return TrapUnresolvedHelper
	case entities.CauseHostFault:
		return TrapHostFault
	case entities.CauseBudgetExhausted:
		return TrapBudgetExhausted
	default:
		return TrapIllegalInstruction
	}
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Err   error
	Field string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config validation failed for field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *ConfigError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeConfig, Code: e.Field}
}

// LinkError is returned by the linker for malformed or conflicting objects.
type LinkError struct {
	Err    error
	Object string
	Symbol string
}

func (e *LinkError) Error() string {
	switch {
	case e.Object != "" && e.Symbol != "":
		return fmt.Sprintf("link %s:%s: %v", e.Object, e.Symbol, e.Err)
	case e.Object != "":
		return fmt.Sprintf("link %s: %v", e.Object, e.Err)
	default:
		return fmt.Sprintf("link: %v", e.Err)
	}
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *LinkError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeLink, Code: e.Symbol}
}

// SchemaError represents a schema generation or validation error.
type SchemaError struct {
	Err  error
	Type string
}

func (e *SchemaError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("schema error for type %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("schema error: %v", e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ToErrorDetail implements DetailedError.
func (e *SchemaError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeSchema, Code: "schema"}
}

// MemoryError represents an allocation failure in guest memory.
type MemoryError struct {
	Requested int // Requested allocation size
	Current   int // Current total allocated
	Limit     int // Maximum allowed
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory allocation failed: requested %d bytes, current %d bytes, limit %d bytes",
		e.Requested, e.Current, e.Limit)
}

// ToErrorDetail implements DetailedError.
func (e *MemoryError) ToErrorDetail() *entities.ErrorDetail {
	return &entities.ErrorDetail{Message: e.Error(), Type: entities.ErrorTypeInternal, Code: "memory_limit"}
}
