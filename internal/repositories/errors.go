package repositories

import (
	"errors"
	"fmt"
)

// ErrorKind classifies storage failures for the service layer.
type ErrorKind string

const (
	ErrorKindUnknown     ErrorKind = "unknown"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindConflict    ErrorKind = "conflict"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// Error is a backend-neutral RepositoryError used by in-process stores.
type Error struct {
	Op      string
	Kind    ErrorKind
	Message string
	Err     error
}

var _ RepositoryError = (*Error)(nil)

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the error represents a missing record.
func (e *Error) IsNotFound() bool { return e != nil && e.Kind == ErrorKindNotFound }

// IsConflict reports whether the error represents a uniqueness or constraint conflict.
func (e *Error) IsConflict() bool { return e != nil && e.Kind == ErrorKindConflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.Kind == ErrorKindUnavailable }

// NewError constructs a classified repository error.
func NewError(op string, kind ErrorKind, message string, err error) *Error {
	if kind == "" {
		kind = ErrorKindUnknown
	}
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// NotFound is shorthand for a not-found repository error.
func NotFound(op, message string) *Error {
	return NewError(op, ErrorKindNotFound, message, nil)
}

// Conflict is shorthand for a conflict repository error.
func Conflict(op, message string) *Error {
	return NewError(op, ErrorKindConflict, message, nil)
}

// IsNotFound reports whether err carries a not-found classification.
func IsNotFound(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

// IsConflict reports whether err carries a conflict classification.
func IsConflict(err error) bool {
	var repoErr RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
