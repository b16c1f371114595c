package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a command failure reported to the observer.
type ErrorCode string

const (
	// CodeStateError means the command is not valid in the current state.
	CodeStateError ErrorCode = "StateError"
	// CodeLookupError means an identifier did not resolve.
	CodeLookupError ErrorCode = "LookupError"
	// CodeInvalidParams means the command parameters were malformed.
	CodeInvalidParams ErrorCode = "InvalidParams"
	// CodeMethodNotFound means no handler is registered for the method.
	CodeMethodNotFound ErrorCode = "MethodNotFound"
	// CodeInternalError means the command failed for another reason.
	CodeInternalError ErrorCode = "InternalError"
)

// Error is a command error with a machine-readable code.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an Error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// StateErrorf builds a CodeStateError error.
func StateErrorf(format string, args ...any) *Error {
	return NewError(CodeStateError, format, args...)
}

// LookupErrorf builds a CodeLookupError error.
func LookupErrorf(format string, args ...any) *Error {
	return NewError(CodeLookupError, format, args...)
}

// InvalidParamsf builds a CodeInvalidParams error.
func InvalidParamsf(format string, args ...any) *Error {
	return NewError(CodeInvalidParams, format, args...)
}

// IsCode reports whether err is, or wraps, an Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// AsError converts any error into an Error, defaulting to CodeInternalError.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}
