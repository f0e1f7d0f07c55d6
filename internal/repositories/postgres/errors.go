package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation     pq.ErrorCode = "23505"
	codeForeignKeyViolation pq.ErrorCode = "23503"
	codeCheckViolation      pq.ErrorCode = "23514"
	codeRestrictViolation   pq.ErrorCode = "23001"
	codeSerialization       pq.ErrorCode = "40001"
	codeDeadlock            pq.ErrorCode = "40P01"
)

// Error implements repositories.RepositoryError for Postgres backed repositories.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsNotFound reports whether the error represents a missing row or a missing referenced row.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the error represents a constraint conflict.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable reports whether the error represents a transient backend outage.
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// Constraint returns the violated constraint name when known.
func (e *Error) Constraint() string {
	var pqErr *pq.Error
	if e != nil && errors.As(e.err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}

func newError(op string, err error) *Error {
	e := &Error{op: op, err: err}
	if errors.Is(err, sql.ErrNoRows) {
		e.notFound = true
		return e
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		e.unavailable = true
		return e
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return e
	}
	switch pqErr.Code {
	case codeUniqueViolation, codeCheckViolation, codeRestrictViolation:
		e.conflict = true
		return e
	case codeForeignKeyViolation:
		e.notFound = true
		return e
	case codeSerialization, codeDeadlock:
		e.unavailable = true
		return e
	}
	switch pqErr.Code.Class() {
	case "08", "53", "57":
		e.unavailable = true
	}
	return e
}

// WrapError annotates driver errors with repository semantics. Context cancellations are passed through.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr *Error
	if errors.As(err, &repoErr) {
		if op != "" && repoErr.op == "" {
			repoErr.op = op
		}
		return repoErr
	}
	return newError(op, err)
}
