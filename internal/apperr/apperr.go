// Package apperr implements the error taxonomy shared by every engine:
// Validation, NotFound, RateLimited, Transient, Conflict, Invariant. HTTP
// translation happens once, in pkg/httputil, never inside a service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not_found"
	KindRateLimited Kind = "rate_limited"
	KindTransient   Kind = "transient"
	KindConflict    Kind = "conflict"
	KindInvariant   Kind = "invariant"
)

// Error wraps a domain failure with the kind controllers use to pick an HTTP
// status and a user-facing message.
type Error struct {
	Kind    Kind
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

func new_(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Err: cause}
}

func Validation(msg string) error           { return new_(KindValidation, msg, nil) }
func Validationf(format string, a ...any) error { return new_(KindValidation, fmt.Sprintf(format, a...), nil) }
func NotFound(msg string) error             { return new_(KindNotFound, msg, nil) }
func RateLimited(msg string, cause error) error { return new_(KindRateLimited, msg, cause) }
func Transient(msg string, cause error) error   { return new_(KindTransient, msg, cause) }
func Conflict(msg string) error             { return new_(KindConflict, msg, nil) }
func Invariant(msg string) error            { return new_(KindInvariant, msg, nil) }

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the taxonomy kind, defaulting to Transient for untyped
// errors — an unrecognized failure is treated as retryable-but-opaque, never
// silently swallowed.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
