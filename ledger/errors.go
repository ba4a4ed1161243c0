/*
errors.go - Error taxonomy for the ledger engine

PURPOSE:
  All error types in one place. Each structured error unwraps to a
  sentinel so callers can branch with errors.Is and still read the
  details with errors.As.

ERROR CATEGORIES:
  1. Validation     - bad amount, type, date, state (ValidationError)
  2. Uniqueness     - category already exists (DuplicateError)
  3. Lookup         - missing movement, category, closing, order (NotFoundError)
  4. Immutability   - mutating a registered movement (ImmutableRecordError)
  5. Reconciliation - closing a day with nothing to close (NothingToCloseError)
  6. Concurrency    - lost update detected (ConcurrencyConflictError)

NOT AN ERROR:
  An idempotency-key collision in the default mode returns the prior
  movement. ErrDuplicateIdempotencyKey only travels between a store and
  the ledger, never to API callers.

USAGE:
  if errors.Is(err, ledger.ErrNothingToClose) {
      // nothing new since the last closing
  }

SEE ALSO:
  - api/handlers.go: maps these errors to HTTP status codes
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicate           = errors.New("already exists")
	ErrNotFound            = errors.New("not found")
	ErrImmutableRecord     = errors.New("record is registered and cannot be modified")
	ErrNothingToClose      = errors.New("nothing to close")
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by a Store when an insert hits
	// the unique idempotency constraint. The ledger resolves it.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type DuplicateError struct {
	Kind string // "category"
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

type NotFoundError struct {
	Kind string // "movement", "category", "closing", "order"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type ImmutableRecordError struct {
	MovementID MovementID
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("movement %s is registered in a cash closing and cannot be modified", e.MovementID)
}

func (e *ImmutableRecordError) Unwrap() error { return ErrImmutableRecord }

type NothingToCloseError struct {
	Date Date
}

func (e *NothingToCloseError) Error() string {
	return fmt.Sprintf("no unregistered movements on %s", e.Date)
}

func (e *NothingToCloseError) Unwrap() error { return ErrNothingToClose }

type ConcurrencyConflictError struct {
	Kind string
	ID   string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently; refresh and retry", e.Kind, e.ID)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrImmutableRecord) ||
		errors.Is(err, ErrNothingToClose)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func movementNotFound(id MovementID) error {
	return &NotFoundError{Kind: "movement", ID: string(id)}
}
