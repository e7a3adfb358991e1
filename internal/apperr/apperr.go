// Package apperr defines the error taxonomy shared by the tenancy, auth and
// storage layers. The route layer maps each kind to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAuthorization   = errors.New("authorization error")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrTooLarge        = errors.New("payload too large")
	ErrInternal        = errors.New("internal error")
)

// Error is a domain error carrying a user-facing message and its kind.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is reports whether target is this error's kind. Size failures are also
// validation failures.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrTooLarge && target == ErrValidation
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(msg string) *Error      { return &Error{Kind: ErrValidation, Message: msg} }
func Unauthenticated(msg string) *Error { return &Error{Kind: ErrUnauthenticated, Message: msg} }
func Authorization(msg string) *Error   { return &Error{Kind: ErrAuthorization, Message: msg} }
func Conflict(msg string) *Error        { return &Error{Kind: ErrConflict, Message: msg} }
func NotFound(msg string) *Error        { return &Error{Kind: ErrNotFound, Message: msg} }
func TooLarge(msg string) *Error        { return &Error{Kind: ErrTooLarge, Message: msg} }

// Internal wraps an upstream failure. The message is what callers see;
// err keeps the detail for logs.
func Internal(msg string, err error) *Error {
	return &Error{Kind: ErrInternal, Message: msg, Err: err}
}

// Message returns the user-facing message of err if it is an *Error,
// otherwise fallback.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return fallback
}
