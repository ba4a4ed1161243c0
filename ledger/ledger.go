/*
ledger.go - Ledger Store service with the idempotency guard

PURPOSE:
  The Ledger is the only way movements get written. It validates input,
  enforces the idempotency guard, blocks mutation of registered
  movements, and announces every change to an advisory Notifier.

IDEMPOTENCY GUARD:
  A movement may carry an IdempotencyKey. Two modes decide what happens
  when the key already exists:

    return-existing (default): the prior movement is returned unchanged,
                               nothing is written. This is a success.
    replace-if-exists:         the prior movement's fields are overwritten,
                               unless it is registered (ImmutableRecordError).

  The lookup and the insert run in one store transaction, and the store
  enforces key uniqueness itself. If another process wins the race the
  insert fails with ErrDuplicateIdempotencyKey, the transaction rolls
  back, and the guard re-reads the winner instead of failing.

IMMUTABILITY:
  Registered movements (included in a cash closing) reject Update and
  Delete with ImmutableRecordError. Deleting them can be re-enabled with
  AllowRegisteredDelete for deployments that relied on the old lenient
  behaviour; closing details then drop the dangling ids.

NOTIFICATIONS:
  Notifier failures are logged and swallowed. Consumers re-read the store
  to get correct state; a missed notification never corrupts anything.

SEE ALSO:
  - store.go: Persistence interface
  - closing.go: The only writer of the Registered flag
  - sync.go: Payment state synchronizer built on Record
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxKeyRaces bounds how often Record re-reads after losing an
// idempotency-key race to another writer.
const maxKeyRaces = 3

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store    TxStore
	log      *zap.Logger
	notifier Notifier
	now      Clock
	newID    func() string

	allowRegisteredDelete bool
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithClock(c Clock) Option {
	return func(l *Ledger) { l.now = c }
}

func WithIDGenerator(gen func() string) Option {
	return func(l *Ledger) { l.newID = gen }
}

// AllowRegisteredDelete permits hard-deleting registered movements.
func AllowRegisteredDelete(allow bool) Option {
	return func(l *Ledger) { l.allowRegisteredDelete = allow }
}

func NewLedger(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:    store,
		log:      zap.NewNop(),
		notifier: NopNotifier{},
		now:      systemClock,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store to sibling services.
func (l *Ledger) Store() TxStore { return l.store }

// =============================================================================
// RECORD
// =============================================================================

type RecordMode int

const (
	ReturnExisting RecordMode = iota
	ReplaceIfExists
)

type RecordOption func(*recordConfig)

type recordConfig struct {
	mode RecordMode
}

// Replace selects replace-if-exists semantics for a duplicate key.
func Replace() RecordOption {
	return func(c *recordConfig) { c.mode = ReplaceIfExists }
}

// WithMode selects the duplicate-key mode explicitly.
func WithMode(mode RecordMode) RecordOption {
	return func(c *recordConfig) { c.mode = mode }
}

// Record validates and stores a movement.
//
// With an IdempotencyKey that already exists, the default mode returns the
// stored movement unchanged; Replace() overwrites it unless registered.
func (l *Ledger) Record(ctx context.Context, in MovementInput, opts ...RecordOption) (Movement, error) {
	cfg := recordConfig{mode: ReturnExisting}
	for _, opt := range opts {
		opt(&cfg)
	}

	candidate := l.fromInput(in)
	if err := validateMovement(candidate); err != nil {
		return Movement{}, err
	}

	for race := 0; race < maxKeyRaces; race++ {
		var (
			out     Movement
			outcome ChangeKind
		)
		err := l.store.WithTx(ctx, func(s Store) error {
			if candidate.IdempotencyKey != "" {
				existing, found, err := s.FindByIdempotencyKey(ctx, candidate.IdempotencyKey)
				if err != nil {
					return err
				}
				if found {
					if cfg.mode == ReturnExisting {
						out, outcome = existing, ""
						return nil
					}
					replaced, err := replaceExisting(ctx, s, existing, candidate)
					if err != nil {
						return err
					}
					out, outcome = replaced, ChangeMovementReplaced
					return nil
				}
			}
			inserted, err := s.InsertMovement(ctx, candidate)
			if err != nil {
				return err
			}
			out, outcome = inserted, ChangeMovementRecorded
			return nil
		})
		if IsDuplicateKey(err) {
			l.log.Debug("idempotency key race lost, re-reading",
				zap.String("key", candidate.IdempotencyKey), zap.Int("attempt", race+1))
			continue
		}
		if err != nil {
			return Movement{}, err
		}

		if outcome == "" {
			l.log.Debug("idempotent replay", zap.String("key", out.IdempotencyKey), zap.String("id", string(out.ID)))
			return out, nil
		}
		l.log.Info(string(outcome), movementFields(out)...)
		l.publish(ctx, Change{Kind: outcome, MovementID: out.ID, Date: out.Date})
		return out, nil
	}

	return Movement{}, &ConcurrencyConflictError{Kind: "idempotency key", ID: candidate.IdempotencyKey}
}

func replaceExisting(ctx context.Context, s Store, existing, candidate Movement) (Movement, error) {
	if existing.Registered {
		return Movement{}, &ImmutableRecordError{MovementID: existing.ID}
	}
	next := candidate
	next.ID = existing.ID
	next.Seq = existing.Seq
	next.CreatedAt = existing.CreatedAt
	next.Registered = false
	next.Version = existing.Version + 1

	ok, err := s.UpdateMovement(ctx, next)
	if err != nil {
		return Movement{}, err
	}
	if !ok {
		return Movement{}, &ConcurrencyConflictError{Kind: "movement", ID: string(existing.ID)}
	}
	return next, nil
}

func (l *Ledger) fromInput(in MovementInput) Movement {
	now := l.now()
	m := Movement{
		ID:             MovementID(l.newID()),
		Type:           in.Type,
		Amount:         in.Amount,
		Category:       in.Category,
		Description:    in.Description,
		Date:           in.Date,
		Time:           in.Time,
		PaymentMethod:  in.PaymentMethod,
		ClientName:     in.ClientName,
		OrderID:        in.OrderID,
		IdempotencyKey: in.IdempotencyKey,
		Version:        1,
		CreatedAt:      now.UTC(),
	}
	if m.Date.IsZero() {
		m.Date = DateOf(now)
	}
	if m.Time.IsZero() {
		m.Time = TimeOfDayOf(now)
	}
	return m
}

func validateMovement(m Movement) error {
	if !m.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("%q is not one of income, expense, investment", m.Type)}
	}
	if !m.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !m.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown method %q", m.PaymentMethod)}
	}
	if m.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	return nil
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

// Update applies patch to an unregistered movement.
func (l *Ledger) Update(ctx context.Context, id MovementID, patch MovementPatch) (Movement, error) {
	var out Movement
	err := l.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if cur.Registered {
			return &ImmutableRecordError{MovementID: id}
		}
		if patch.ExpectedVersion != nil && *patch.ExpectedVersion != cur.Version {
			return &ConcurrencyConflictError{Kind: "movement", ID: string(id)}
		}

		next := patch.apply(cur)
		if err := validateMovement(next); err != nil {
			return err
		}
		next.Version = cur.Version + 1

		ok, err := s.UpdateMovement(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			return &ConcurrencyConflictError{Kind: "movement", ID: string(id)}
		}
		out = next
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	l.log.Info("movement updated", movementFields(out)...)
	l.publish(ctx, Change{Kind: ChangeMovementUpdated, MovementID: out.ID, Date: out.Date})
	return out, nil
}

// Delete hard-deletes a movement.
func (l *Ledger) Delete(ctx context.Context, id MovementID) error {
	var deleted Movement
	err := l.store.WithTx(ctx, func(s Store) error {
		cur, err := s.GetMovement(ctx, id)
		if err != nil {
			return err
		}
		if cur.Registered && !l.allowRegisteredDelete {
			return &ImmutableRecordError{MovementID: id}
		}
		ok, err := s.DeleteMovement(ctx, id, !l.allowRegisteredDelete)
		if err != nil {
			return err
		}
		if !ok {
			// Registered by a concurrent closing since the read above.
			if _, err := s.GetMovement(ctx, id); err == nil {
				return &ImmutableRecordError{MovementID: id}
			}
			return movementNotFound(id)
		}
		deleted = cur
		return nil
	})
	if err != nil {
		return err
	}

	l.log.Info("movement deleted", zap.String("id", string(id)), zap.Bool("registered", deleted.Registered))
	l.publish(ctx, Change{Kind: ChangeMovementDeleted, MovementID: id, Date: deleted.Date})
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (l *Ledger) Get(ctx context.Context, id MovementID) (Movement, error) {
	return l.store.GetMovement(ctx, id)
}

// ListByDate returns the day's movements, latest time first. Movements with
// the same time keep insertion order.
func (l *Ledger) ListByDate(ctx context.Context, date Date) ([]Movement, error) {
	return l.store.ListMovements(ctx, MovementFilter{Date: &date})
}

// ListAll returns every movement sorted by (date desc, time desc).
func (l *Ledger) ListAll(ctx context.Context) ([]Movement, error) {
	return l.store.ListMovements(ctx, MovementFilter{})
}

func (l *Ledger) ListByCategory(ctx context.Context, category string) ([]Movement, error) {
	return l.store.ListMovements(ctx, MovementFilter{Category: &category})
}

// ListRange returns movements dated within [from, to].
func (l *Ledger) ListRange(ctx context.Context, from, to Date) ([]Movement, error) {
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Reason: "end before start"}
	}
	return l.store.ListMovements(ctx, MovementFilter{From: &from, To: &to})
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) publish(ctx context.Context, c Change) {
	if c.At.IsZero() {
		c.At = l.now().UTC()
	}
	if err := l.notifier.Notify(ctx, c); err != nil {
		l.log.Warn("change notification failed", zap.String("kind", string(c.Kind)), zap.Error(err))
	}
}

func movementFields(m Movement) []zap.Field {
	return []zap.Field{
		zap.String("id", string(m.ID)),
		zap.String("type", string(m.Type)),
		zap.String("amount", m.Amount.String()),
		zap.String("date", m.Date.String()),
		zap.String("category", m.Category),
		zap.Int("version", m.Version),
	}
}

// Now reads the ledger clock.
func (l *Ledger) Now() time.Time { return l.now() }

// stamp returns the ledger clock's current instant in UTC.
func (l *Ledger) stamp() time.Time { return l.now().UTC() }
