package entities

import (
	"fmt"
	"strings"
)

// Error types carried in ErrorDetail.Type.
const (
	ErrorTypeLink     = "link"
	ErrorTypeBounds   = "bounds"
	ErrorTypeTrap     = "trap"
	ErrorTypeTimeout  = "timeout"
	ErrorTypeConfig   = "config"
	ErrorTypeSchema   = "schema"
	ErrorTypeInternal = "internal"
)

// ErrorDetail is the serializable form of a runtime error, used in CLI
// output and persisted device state.
type ErrorDetail struct {
	Wrapped *ErrorDetail   `json:"wrapped,omitempty"`
	Details map[string]any `json:"details,omitempty"`

	// Exception is the element state at the fault, set for traps.
	Exception *ExceptionState `json:"exception,omitempty"`

	Message string `json:"message"`
	Type    string `json:"type"`

	// Code is a machine-readable error code such as a trap kind.
	Code string `json:"code"`

	IsTimeout  bool `json:"is_timeout,omitempty"`
	IsNotFound bool `json:"is_not_found,omitempty"`
}

// Error implements the error interface.
func (e *ErrorDetail) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Type != "" && e.Type != ErrorTypeInternal {
		b.WriteString(e.Type)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Exception != nil {
		fmt.Fprintf(&b, " at pc %d", e.Exception.PC)
	}
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

// NewErrorDetail creates an ErrorDetail of the given type.
func NewErrorDetail(errorType, message string) *ErrorDetail {
	return &ErrorDetail{Type: errorType, Message: message}
}

// WithCode sets the code and returns e.
func (e *ErrorDetail) WithCode(code string) *ErrorDetail {
	e.Code = code
	return e
}

// WithException records the element state and returns e.
func (e *ErrorDetail) WithException(st ExceptionState) *ErrorDetail {
	e.Exception = &st
	return e
}
