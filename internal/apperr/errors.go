// Package apperr defines the error kinds reported by the orchestration core.
//
// Every failure that crosses a component boundary is an *Error carrying one
// of the Err* kinds, so callers can branch with errors.Is and the HTTP layer
// can map kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	// ErrValidation indicates a malformed identifier, path or filter value.
	ErrValidation = errors.New("validation error")

	// ErrCapacity indicates admission was denied; the caller should retry later.
	ErrCapacity = errors.New("capacity exceeded")

	// ErrNotFound indicates a session or artifact does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccess indicates a path resolved outside its session directory.
	ErrAccess = errors.New("access denied")

	// ErrProcessSpawn indicates the external engine could not be launched.
	ErrProcessSpawn = errors.New("process spawn failed")

	// ErrTimeout indicates the processing deadline was exceeded.
	ErrTimeout = errors.New("processing timed out")

	// ErrProcessing indicates the process ran but did not produce usable output.
	ErrProcessing = errors.New("processing failed")
)

// Error is a classified error. Kind is one of the Err* values.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New creates a classified error.
func New(kind error, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// Validation creates an ErrValidation error with a formatted message.
func Validation(op, format string, args ...any) *Error {
	return New(ErrValidation, op, fmt.Sprintf(format, args...), nil)
}

// NotFound creates an ErrNotFound error with a formatted message.
func NotFound(op, format string, args ...any) *Error {
	return New(ErrNotFound, op, fmt.Sprintf(format, args...), nil)
}

// Access creates an ErrAccess error with a formatted message.
func Access(op, format string, args ...any) *Error {
	return New(ErrAccess, op, fmt.Sprintf(format, args...), nil)
}

// Capacity creates an ErrCapacity error.
func Capacity(op, message string) *Error {
	return New(ErrCapacity, op, message, nil)
}

// Timeout creates an ErrTimeout error.
func Timeout(op, message string) *Error {
	return New(ErrTimeout, op, message, nil)
}

// Spawn creates an ErrProcessSpawn error wrapping the launch failure.
func Spawn(op string, err error) *Error {
	return New(ErrProcessSpawn, op, "failed to start processing engine", err)
}

// Processing creates an ErrProcessing error.
func Processing(op, message string, err error) *Error {
	return New(ErrProcessing, op, message, err)
}

var kinds = []error{
	ErrValidation,
	ErrCapacity,
	ErrNotFound,
	ErrAccess,
	ErrProcessSpawn,
	ErrTimeout,
	ErrProcessing,
}

// KindOf returns the kind of err, or nil when err is unclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// UserMessage returns the message suitable for showing to a client.
// Causes are omitted since they may contain paths or engine output.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return e.Kind.Error()
	}
	return "internal error"
}
