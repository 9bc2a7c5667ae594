// Package domainerrors provides coded errors for contract violations that
// callers are expected to branch on. Infrastructure failures should be
// wrapped with fmt.Errorf instead.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeInvalidInput marks malformed caller-supplied data.
	CodeInvalidInput Code = "invalid_input"
	// CodePrecondition marks operations invoked before their prerequisites
	// were satisfied (for example an authenticated call without a token).
	// These are never retried and never reach the network.
	CodePrecondition Code = "precondition_failed"
	// CodeUnknownValue marks a closed enum received with an unrecognized
	// value, usually from a remote contract change.
	CodeUnknownValue Code = "unknown_value"
	// CodeProhibited marks operations the current session is not allowed
	// to perform.
	CodeProhibited Code = "prohibited"
	// CodeUnavailable marks remote operations that failed after local
	// recovery was exhausted.
	CodeUnavailable Code = "unavailable"
)

// Error carries a stable code alongside a human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code from err, or "" when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
