package errors

import (
	"errors"
	"fmt"
)

// Sentinels shared by batchflow packages. Match them with errors.Is.
var (
	ErrClosed               = errors.New("resource is closed")
	ErrTimeout              = errors.New("operation timed out")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrRateLimited          = errors.New("rate limited")

	// ErrItemSkipped marks an item claimed after its run was canceled.
	ErrItemSkipped = errors.New("item skipped")

	// ErrPanic is matched by every *PanicError.
	ErrPanic = errors.New("unit of work panicked")
)

// ValidationError describes a configuration value that failed validation.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string
}

// NewValidationError creates a ValidationError for module.field.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// WithHint attaches a remediation hint and returns the same error for chaining.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap makes every ValidationError match ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// OperationError wraps a failure of a named operation inside a module.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

// WithContext attaches extra detail and returns the same error for chaining.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// PanicError carries a value recovered from a panicking unit of work.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit of work panicked: %v", e.Value)
}

// Unwrap makes every PanicError match ErrPanic.
func (e *PanicError) Unwrap() error {
	return ErrPanic
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsPanic reports whether err is or wraps a PanicError.
func IsPanic(err error) bool {
	var perr *PanicError
	return errors.As(err, &perr)
}

// IsRetryable reports whether resubmitting the failed work may succeed:
// it timed out, was rate limited, or was skipped without running.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrItemSkipped)
}
