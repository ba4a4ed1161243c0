/*
Package orders provides an in-memory Order Source.

PURPOSE:
  The ledger never owns orders; it reads their payment state and reacts
  to transitions. Book is the collaborator that owns them in this repo:
  it stores orders, moves them through the payment state machine and
  emits each transition to subscribed handlers (the payment synchronizer).

STATE MACHINE:
  NO_DEPOSIT → DEPOSIT_PAID → PAID_FULL
  NO_DEPOSIT → PAID_FULL

  Backward moves are rejected. PAID_FULL → PAID_FULL is accepted as a
  replay of the final transition so an upstream retry reaches the
  synchronizer, whose idempotency key keeps it harmless.

ORDERING:
  Handlers run with the order snapshot taken BEFORE the transition and
  while the book is locked. The new state is stored only after every
  handler succeeded, so a failed handler leaves the order untouched and
  the transition can be retried. Handlers must not call back into the
  Book.
*/
package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/cashbook/ledger"
	"go.uber.org/zap"
)

// Handler receives a transition together with the pre-transition order.
type Handler func(ctx context.Context, before ledger.Order, t ledger.Transition) error

type Book struct {
	mu       sync.Mutex
	orders   map[ledger.OrderID]ledger.Order
	history  []ledger.Transition
	handlers []Handler
	log      *zap.Logger
}

var _ ledger.OrderSource = (*Book)(nil)

type Option func(*Book)

func WithLogger(log *zap.Logger) Option {
	return func(b *Book) { b.log = log }
}

func NewBook(opts ...Option) *Book {
	b := &Book{
		orders: make(map[ledger.OrderID]ledger.Order),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for every future transition.
func (b *Book) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Put creates or replaces an order.
func (b *Book) Put(_ context.Context, o ledger.Order) (ledger.Order, error) {
	if err := validateOrder(o); err != nil {
		return ledger.Order{}, err
	}
	if o.PaymentState == "" {
		o.PaymentState = ledger.NoDeposit
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[o.ID] = o
	return o, nil
}

func (b *Book) Order(_ context.Context, id ledger.OrderID) (ledger.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[id]
	if !ok {
		return ledger.Order{}, &ledger.NotFoundError{Kind: "order", ID: string(id)}
	}
	return o, nil
}

// Orders returns every order sorted by id.
func (b *Book) Orders(_ context.Context) ([]ledger.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ledger.Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// History returns the transitions applied so far, oldest first.
func (b *Book) History() []ledger.Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ledger.Transition(nil), b.history...)
}

// Reset drops every order and the transition log. Handlers stay subscribed.
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[ledger.OrderID]ledger.Order)
	b.history = nil
}

// TransitionRequest moves an order to a new payment state.
type TransitionRequest struct {
	OrderID       ledger.OrderID
	To            ledger.PaymentState
	CloseDate     ledger.Date
	PaymentMethod ledger.PaymentMethod

	// AmountReceived, when set, replaces the order's recorded amount after
	// the transition. Reaching PAID_FULL without one records the total.
	AmountReceived *decimal.Decimal
}

// Transition applies req, notifying handlers first.
func (b *Book) Transition(ctx context.Context, req TransitionRequest) (ledger.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	before, ok := b.orders[req.OrderID]
	if !ok {
		return ledger.Order{}, &ledger.NotFoundError{Kind: "order", ID: string(req.OrderID)}
	}
	if err := checkTransition(before.PaymentState, req.To); err != nil {
		return ledger.Order{}, err
	}

	t := ledger.Transition{
		OrderID:       req.OrderID,
		From:          before.PaymentState,
		To:            req.To,
		CloseDate:     req.CloseDate,
		PaymentMethod: req.PaymentMethod,
	}
	for _, h := range b.handlers {
		if err := h(ctx, before, t); err != nil {
			b.log.Warn("transition handler failed, order unchanged",
				zap.String("order", string(req.OrderID)),
				zap.String("to", string(req.To)),
				zap.Error(err))
			return ledger.Order{}, err
		}
	}

	after := before
	after.PaymentState = req.To
	switch {
	case req.AmountReceived != nil:
		amt := *req.AmountReceived
		after.AmountReceived = &amt
	case req.To == ledger.PaidFull:
		total := before.Total
		after.AmountReceived = &total
	}
	b.orders[req.OrderID] = after
	b.history = append(b.history, t)

	b.log.Info("order payment state changed",
		zap.String("order", string(req.OrderID)),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)))
	return after, nil
}

var stateRank = map[ledger.PaymentState]int{
	ledger.NoDeposit:   0,
	ledger.DepositPaid: 1,
	ledger.PaidFull:    2,
}

func checkTransition(from, to ledger.PaymentState) error {
	if !to.Valid() {
		return &ledger.ValidationError{Field: "to", Reason: fmt.Sprintf("unknown payment state %q", to)}
	}
	if from == to && to == ledger.PaidFull {
		return nil
	}
	if stateRank[to] <= stateRank[from] {
		return &ledger.ValidationError{
			Field:  "to",
			Reason: fmt.Sprintf("cannot move from %s to %s", from, to),
		}
	}
	return nil
}

func validateOrder(o ledger.Order) error {
	if o.ID == "" {
		return &ledger.ValidationError{Field: "id", Reason: "required"}
	}
	if o.Total.IsNegative() {
		return &ledger.ValidationError{Field: "total", Reason: "must not be negative"}
	}
	if o.PaymentState != "" && !o.PaymentState.Valid() {
		return &ledger.ValidationError{Field: "payment_state", Reason: fmt.Sprintf("unknown payment state %q", o.PaymentState)}
	}
	if o.AmountReceived != nil && o.AmountReceived.IsNegative() {
		return &ledger.ValidationError{Field: "amount_received", Reason: "must not be negative"}
	}
	return nil
}

// SyncHandler adapts a Synchronizer into a Handler.
func SyncHandler(s *ledger.Synchronizer) Handler {
	return func(ctx context.Context, before ledger.Order, t ledger.Transition) error {
		_, err := s.Apply(ctx, before, t)
		return err
	}
}
