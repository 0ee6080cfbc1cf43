package measure

import (
	"errors"
	"fmt"
)

// Error represents a structured measurement error with context. Only
// recoverable inconsistencies surface as errors; invariant violations
// abort with a fatal diagnostic instead.
type Error struct {
	Op       string    // Operation that failed (e.g., "CONFIG_PARSE", "REMOVE_HANDLE")
	Location uint64    // Location id (0 if not applicable)
	Code     ErrorCode // High-level error category
	Msg      string    // Human-readable message
	Inner    error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("measure: %s (op=%s)", msg, e.Op)
	}
	return fmt.Sprintf("measure: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support by error code
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidConfig     ErrorCode = "invalid configuration value"
	ErrCodeDuplicatePayload  ErrorCode = "duplicate handle payload"
	ErrCodeUnknownAllocation ErrorCode = "unknown allocation"
	ErrCodeUnknownHandle     ErrorCode = "unknown I/O handle"
	ErrCodeRegionNotEntered  ErrorCode = "region exited that was not entered"
	ErrCodeFrequencyOutlier  ErrorCode = "tsc frequency outlier"
	ErrCodeFilterSyntax      ErrorCode = "filter file syntax error"
	ErrCodeWrongPhase        ErrorCode = "operation in wrong measurement phase"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewLocationError creates a new location-specific error
func NewLocationError(op string, location uint64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		Location: location,
		Code:     code,
		Msg:      msg,
	}
}

// WrapError wraps an existing error with measurement context
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	if me, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			Location: me.Location,
			Code:     me.Code,
			Msg:      me.Msg,
			Inner:    me.Inner,
		}
	}
	return &Error{
		Op:    op,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == code
	}
	return false
}
