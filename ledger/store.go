/*
store.go - Persistence interfaces for movements, categories and closings

PURPOSE:
  Defines the boundary between the ledger services and the database.
  Implementations: SQLite and PostgreSQL (store/sqldb) and in-memory
  (ledger/store).

IDEMPOTENCY:
  InsertMovement MUST enforce uniqueness of IdempotencyKey at the storage
  layer (unique index or equivalent) and return ErrDuplicateIdempotencyKey
  on collision. An application-level check alone is not enough: two
  processes may race between the check and the insert.

COMPARE-AND-SWAP:
  UpdateMovement only writes rows that are still unregistered and whose
  version matches the caller's copy. It reports false when nothing
  matched so the ledger can tell "registered" from "lost update".

ATOMIC BATCHES:
  TxStore.WithTx runs a function with a Store bound to one transaction.
  The closing sequence (select, snapshot, flag) and the category rename
  cascade run inside WithTx so a failure leaves no partial state.

ORDERING:
  ListMovements returns rows sorted by (date desc, time desc, seq asc);
  seq is the insertion sequence so equal timestamps keep insertion order.

SEE ALSO:
  - ledger.go: Ledger Store service on top of Store
  - store/sqldb/sqldb.go: SQL implementation
  - ledger/store/memory.go: In-memory implementation for tests
*/
package ledger

import (
	"context"
	"errors"
)

// =============================================================================
// STORE - Interface for persistence
// =============================================================================

// MovementFilter selects movements. Zero-valued fields do not filter.
type MovementFilter struct {
	Date         *Date
	From         *Date
	To           *Date
	Category     *string
	Unregistered bool
}

type Store interface {
	// InsertMovement persists a new movement and returns it with Seq set.
	// Returns ErrDuplicateIdempotencyKey if the key is already taken.
	InsertMovement(ctx context.Context, m Movement) (Movement, error)

	// GetMovement returns the movement or a NotFoundError.
	GetMovement(ctx context.Context, id MovementID) (Movement, error)

	// FindByIdempotencyKey returns (movement, true) when the key exists.
	FindByIdempotencyKey(ctx context.Context, key string) (Movement, bool, error)

	// UpdateMovement overwrites the mutable fields of m where the stored row
	// is unregistered and has version m.Version-1. Returns false if no row
	// matched.
	UpdateMovement(ctx context.Context, m Movement) (bool, error)

	// DeleteMovement hard-deletes a movement. With unregisteredOnly set, a
	// registered row is left alone. Returns false if no row was deleted.
	DeleteMovement(ctx context.Context, id MovementID, unregisteredOnly bool) (bool, error)

	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)

	// MarkRegistered flags the given unregistered movements as registered
	// and returns how many rows changed.
	MarkRegistered(ctx context.Context, ids []MovementID) (int, error)

	InsertCategory(ctx context.Context, c Category) error
	CategoryExists(ctx context.Context, name string) (bool, error)
	ListCategories(ctx context.Context) ([]Category, error)
	DeleteCategory(ctx context.Context, name string) (bool, error)

	// RenameCategory renames the registry entry and relabels every movement
	// carrying the old name. Returns the number of relabelled movements.
	RenameCategory(ctx context.Context, oldName, newName string) (int, error)

	InsertClosing(ctx context.Context, c ClosingRecord) error
	GetClosing(ctx context.Context, id ClosingID) (ClosingRecord, error)
	ListClosings(ctx context.Context, from, to Date) ([]ClosingRecord, error)

	// PendingDates lists dates that have unregistered movements, newest first.
	PendingDates(ctx context.Context) ([]Date, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// IsDuplicateKey reports whether err is a store idempotency collision.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey)
}
