// Package errors defines the error taxonomy shared by the engine services.
// Validation, NotFound and State errors abort an operation before any
// mutation; Conflict errors are retriable seat races; Downstream errors mark
// failures that occurred after a successful core mutation.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindState      Kind = "state"
	KindConflict   Kind = "conflict"
	KindDownstream Kind = "downstream"
)

// Error carries a kind alongside the message so callers and the HTTP layer
// can map failures without string matching.
type Error struct {
	ErrKind Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two taxonomy errors by kind so sentinel comparisons work.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.ErrKind == e.ErrKind && (other.Message == "" || other.Message == e.Message)
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{ErrKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validationf reports malformed input.
func Validationf(format string, args ...interface{}) *Error {
	return newError(KindValidation, format, args...)
}

// NotFoundf reports a missing user, referrer or tree.
func NotFoundf(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

// Statef reports an illegal transition.
func Statef(format string, args ...interface{}) *Error {
	return newError(KindState, format, args...)
}

// Conflictf reports a lost optimistic-concurrency race.
func Conflictf(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

// Downstreamf reports a collaborator failure after a successful core mutation.
func Downstreamf(err error, format string, args ...interface{}) *Error {
	e := newError(KindDownstream, format, args...)
	e.Err = err
	return e
}

// KindOf extracts the kind from err, or an empty kind for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
