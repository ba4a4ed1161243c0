/*
sync.go - Payment state synchronizer

PURPOSE:
  Turns order payment-state transitions into income movements. The order
  lifecycle itself belongs to the Order Source; this component only
  reacts to the transitions it emits.

STATE MACHINE:
  NO_DEPOSIT → DEPOSIT_PAID → PAID_FULL

  Only transitions whose target is PAID_FULL produce a movement, whatever
  the source state. Deposits are recorded by the operator when the money
  arrives, so NO_DEPOSIT → DEPOSIT_PAID writes nothing.

DELTA:
  delta = max(0, order.Total − order.AmountReceived)

  AmountReceived is read from the order as it was BEFORE the transition.
  A zero delta writes nothing.

IDEMPOTENCY:
  The movement key is "order:<id>:payment:<closeDate>:<delta>", so
  replaying the same transition any number of times leaves exactly one
  movement (the ledger's idempotency guard does the rest).

SEE ALSO:
  - ledger.go: Record and the idempotency guard
  - orders/book.go: In-memory Order Source emitting transitions
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderSource is the external collaborator that owns orders.
type OrderSource interface {
	Order(ctx context.Context, id OrderID) (Order, error)
	Orders(ctx context.Context) ([]Order, error)
}

// Synchronizer derives ledger entries from payment-state transitions.
type Synchronizer struct {
	ledger   *Ledger
	orders   OrderSource
	category string
}

type SyncOption func(*Synchronizer)

// WithSalesCategory overrides the category income is filed under.
func WithSalesCategory(name string) SyncOption {
	return func(s *Synchronizer) { s.category = name }
}

func NewSynchronizer(l *Ledger, orders OrderSource, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{ledger: l, orders: orders, category: SalesCategory}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync looks up the order's pre-transition snapshot in the Order Source and
// applies the transition. Call it before the source records the new state.
func (s *Synchronizer) Sync(ctx context.Context, t Transition) (*Movement, error) {
	if s.orders == nil {
		return nil, &NotFoundError{Kind: "order", ID: string(t.OrderID)}
	}
	order, err := s.orders.Order(ctx, t.OrderID)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, order, t)
}

// Apply records the income implied by transition t for the order snapshot
// taken before t happened. Returns nil when the transition writes nothing.
func (s *Synchronizer) Apply(ctx context.Context, before Order, t Transition) (*Movement, error) {
	if err := validateTransition(before, t); err != nil {
		return nil, err
	}
	if t.To != PaidFull {
		s.ledger.log.Debug("transition produces no ledger entry",
			zap.String("order", string(t.OrderID)), zap.String("to", string(t.To)))
		return nil, nil
	}

	delta := PaymentDelta(before)
	if !delta.IsPositive() {
		s.ledger.log.Debug("order already settled", zap.String("order", string(t.OrderID)))
		return nil, nil
	}

	m, err := s.ledger.Record(ctx, MovementInput{
		Type:           Income,
		Amount:         delta,
		Category:       s.category,
		Description:    fmt.Sprintf("Order %s paid in full", t.OrderID),
		Date:           t.CloseDate,
		PaymentMethod:  t.PaymentMethod,
		ClientName:     before.ClientName,
		OrderID:        t.OrderID,
		IdempotencyKey: PaymentKey(t.OrderID, t.CloseDate, delta),
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// PaymentDelta is the outstanding amount settled when an order becomes
// PAID_FULL: max(0, total − received).
func PaymentDelta(before Order) decimal.Decimal {
	delta := before.Total.Sub(before.Received())
	if delta.IsNegative() {
		return decimal.Zero
	}
	return delta
}

// PaymentKey builds the idempotency key for a full-payment movement.
func PaymentKey(id OrderID, closeDate Date, delta decimal.Decimal) string {
	return fmt.Sprintf("order:%s:payment:%s:%s", id, closeDate, delta.String())
}

func validateTransition(before Order, t Transition) error {
	if t.OrderID == "" {
		return &ValidationError{Field: "order_id", Reason: "required"}
	}
	if before.ID != "" && before.ID != t.OrderID {
		return &ValidationError{Field: "order_id", Reason: "snapshot belongs to a different order"}
	}
	if !t.From.Valid() {
		return &ValidationError{Field: "from", Reason: fmt.Sprintf("unknown payment state %q", t.From)}
	}
	if !t.To.Valid() {
		return &ValidationError{Field: "to", Reason: fmt.Sprintf("unknown payment state %q", t.To)}
	}
	if t.From == t.To && t.To != PaidFull {
		return &ValidationError{Field: "to", Reason: "transition does not change state"}
	}
	if t.CloseDate.IsZero() {
		return &ValidationError{Field: "close_date", Reason: "required"}
	}
	if !t.PaymentMethod.Valid() {
		return &ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown method %q", t.PaymentMethod)}
	}
	return nil
}
