/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any store mutation
  2. Not-found errors  - unknown user or no debt between a pair
  3. Store errors      - a persistence call failed; the enclosing transaction
                         is rolled back, so nothing was partially written
  4. Concurrency       - an optimistic version check failed; retryable

USAGE:
  Callers branch with errors.Is / errors.As:

    if errors.Is(err, ledger.ErrValidation) { ... 400 ... }
    var ex *ledger.ExceedsOutstandingError
    if errors.As(err, &ex) { ... show ex.Outstanding ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks every input validation failure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing user, record or debt relationship.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a debt record's version changed
	// between the read and the status flip.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by a store when a payment with the
	// same operation token already exists.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrStoreOperation marks a failed create/update against the store.
	ErrStoreOperation = errors.New("store operation failed")

	// ErrInvalidCredentials is returned by login for unknown user or bad password.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ExceedsOutstandingError is returned when a payment is larger than what the
// debtor currently owes the creditor.
type ExceedsOutstandingError struct {
	Creditor    UserID
	Debtor      UserID
	Outstanding decimal.Decimal
	Requested   decimal.Decimal
}

func (e *ExceedsOutstandingError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding debt %s (%s owes %s)",
		e.Requested, e.Outstanding, e.Debtor, e.Creditor)
}

func (e *ExceedsOutstandingError) Unwrap() error { return ErrValidation }

// NotFoundError names the kind and id of what is missing.
type NotFoundError struct {
	Kind string // "user", "debt", "debt record", "payment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a persistence failure with the operation that failed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the store sentinel and the cause.
func (e *StoreError) Unwrap() []error { return []error{ErrStoreOperation, e.Err} }

// storeErr wraps err unless it already carries ledger semantics.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStoreOperation) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidCredentials)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
