package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

func IsUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func IsForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

// IsNumericOutOfRange reports SQLSTATE 22003, raised when a value does not
// fit its integer column.
func IsNumericOutOfRange(err error) bool {
	return hasCode(err, "22003")
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

// Error categories. Every error returned by the stores and the checkout
// service matches exactly one of these with errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrPersistence = errors.New("persistence failure")
)

var (
	ErrUserNotFound           = fmt.Errorf("user %w", ErrNotFound)
	ErrProductNotFound        = fmt.Errorf("product %w", ErrNotFound)
	ErrOrderNotFound          = fmt.Errorf("order %w", ErrNotFound)
	ErrCartLineNotFound       = fmt.Errorf("cart line %w", ErrNotFound)
	ErrReviewNotFound         = fmt.Errorf("review %w", ErrNotFound)
	ErrReconciliationNotFound = fmt.Errorf("reconciliation entry %w", ErrNotFound)

	ErrInvalidID       = fmt.Errorf("%w: ids must be positive integers", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be between 1 and 2147483647", ErrValidation)
	ErrInvalidPrice    = fmt.Errorf("%w: price must not be negative", ErrValidation)
	ErrInvalidRating   = fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	ErrInvalidStatus   = fmt.Errorf("%w: unknown order status", ErrValidation)
	ErrEmptyOrder      = fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	ErrTotalMismatch   = fmt.Errorf("%w: order total does not match item snapshot", ErrValidation)

	ErrReviewExists = fmt.Errorf("%w: review already exists for this order", ErrConflict)
	ErrLockTimeout  = fmt.Errorf("%w: lock timeout", ErrPersistence)
)

// Persistence wraps a storage failure as ErrPersistence unless it already
// belongs to one of the error categories.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if Categorized(err) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}

func Categorized(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPersistence)
}

// ViolatedConstraint returns the constraint named by a Postgres integrity
// error, or "" for any other error.
func ViolatedConstraint(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Constraint
	}
	return ""
}
