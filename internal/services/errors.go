package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/hanko-field/storefront/internal/platform/pagination"
	"github.com/hanko-field/storefront/internal/repositories"
)

var (
	// ErrValidation signals malformed input. Nothing was persisted.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock signals a line item could not be covered by stock. Nothing was persisted.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrForbidden signals an ownership or role violation.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound signals a missing order, order item or design approval.
	ErrNotFound = errors.New("not found")
	// ErrSignatureInvalid signals a payment callback whose signature did not verify.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrPersistence signals storage was unavailable. The whole operation is safe to retry.
	ErrPersistence = errors.New("persistence unavailable")
	// ErrExternalServiceDegraded signals the payment provider failed. Never returned by CreateOrder.
	ErrExternalServiceDegraded = errors.New("external service degraded")
	// ErrInvalidState signals a customer decision on a design approval that is not awaiting one.
	ErrInvalidState = errors.New("invalid state")
)

// InsufficientStockError names the product whose stock could not cover the requested quantity.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", name, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// PersistenceError hides storage detail from Error() while keeping the cause for logs.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Op == "" {
		return ErrPersistence.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, ErrPersistence.Error())
}

// Unwrap exposes the storage error.
func (e *PersistenceError) Unwrap() error { return e.Err }

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepositoryError translates repository classifications into the service taxonomy. A
// conflict surfaces as validation since every constraint the schema enforces is an input rule.
func mapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: invalid page token", ErrValidation)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s conflicts with existing data", ErrValidation, op)
		}
	}
	return &PersistenceError{Op: op, Err: err}
}
