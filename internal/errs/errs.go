// Package errs defines the error taxonomy shared by all tool surfaces.
//
// Every failure that reaches a caller is classified by Kind so transports
// can map it to a stable machine-readable code without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the response envelope.
type Kind string

const (
	// InvalidArgument rejects malformed or out-of-range caller input.
	InvalidArgument Kind = "invalid_argument"
	// NotFound reports a missing document, initiative, or collection.
	NotFound Kind = "not_found"
	// PreconditionFailed reports a valid request against the wrong state,
	// such as validating an insight that is already concluded.
	PreconditionFailed Kind = "precondition_failed"
	// Conflict reports a write that lost to concurrent state.
	Conflict Kind = "conflict"
	// Unavailable reports a dependency that is down or not configured.
	Unavailable Kind = "unavailable"
	// Internal is the fallback for unexpected failures.
	Internal Kind = "internal"
)

// Error carries a Kind alongside the message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Kind, enabling errors.Is checks against
// kind markers such as errs.New(errs.NotFound, "").
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an existing error.
// Returns nil when err is nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// KindOf walks the error chain and returns the first Kind found,
// defaulting to Internal for unclassified errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether any error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
