package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
)

// staticOrders is a fixed OrderSource.
type staticOrders map[ledger.OrderID]ledger.Order

func (s staticOrders) Order(_ context.Context, id ledger.OrderID) (ledger.Order, error) {
	o, ok := s[id]
	if !ok {
		return ledger.Order{}, &ledger.NotFoundError{Kind: "order", ID: string(id)}
	}
	return o, nil
}

func (s staticOrders) Orders(_ context.Context) ([]ledger.Order, error) {
	out := make([]ledger.Order, 0, len(s))
	for _, o := range s {
		out = append(out, o)
	}
	return out, nil
}

func depositOrder() ledger.Order {
	return ledger.Order{
		ID:             "ORD-1",
		ClientName:     "Ana",
		Total:          dec("10000"),
		PaymentState:   ledger.DepositPaid,
		AmountReceived: ptr(dec("3000")),
	}
}

func paidFull(from ledger.PaymentState) ledger.Transition {
	return ledger.Transition{
		OrderID:       "ORD-1",
		From:          from,
		To:            ledger.PaidFull,
		CloseDate:     jan10,
		PaymentMethod: ledger.MethodTransfer,
	}
}

// 10000 total with 3000 received settles exactly one 7000 income,
// however often the transition is replayed.
func TestSync_PaymentDeltaOnce(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	s := ledger.NewSynchronizer(l, staticOrders{"ORD-1": depositOrder()})

	for i := 0; i < 3; i++ {
		m, err := s.Sync(ctx, paidFull(ledger.DepositPaid))
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "7000", m.Amount.String())
	}

	all, err := l.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	m := all[0]
	assert.Equal(t, ledger.Income, m.Type)
	assert.Equal(t, ledger.SalesCategory, m.Category)
	assert.Equal(t, ledger.OrderID("ORD-1"), m.OrderID)
	assert.Equal(t, "Ana", m.ClientName)
	assert.Equal(t, ledger.MethodTransfer, m.PaymentMethod)
	assert.True(t, m.Date.Equal(jan10))
	assert.Equal(t, "order:ORD-1:payment:2025-01-10:7000", m.IdempotencyKey)
}

func TestSync_OnlyPaidFullWrites(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	s := ledger.NewSynchronizer(l, nil)

	m, err := s.Apply(ctx, ledger.Order{ID: "ORD-1", Total: dec("100"), PaymentState: ledger.NoDeposit}, ledger.Transition{
		OrderID: "ORD-1", From: ledger.NoDeposit, To: ledger.DepositPaid, CloseDate: jan10,
	})
	require.NoError(t, err)
	assert.Nil(t, m)

	all, err := l.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSync_DirectFromNoDeposit(t *testing.T) {
	l, _ := newLedger(t)
	s := ledger.NewSynchronizer(l, nil, ledger.WithSalesCategory("Sales"))

	m, err := s.Apply(context.Background(),
		ledger.Order{ID: "ORD-1", Total: dec("4500"), PaymentState: ledger.NoDeposit},
		paidFull(ledger.NoDeposit))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "4500", m.Amount.String())
	assert.Equal(t, "Sales", m.Category)
}

func TestSync_NothingOutstanding(t *testing.T) {
	l, _ := newLedger(t)
	s := ledger.NewSynchronizer(l, nil)

	over := depositOrder()
	over.AmountReceived = ptr(dec("12000"))
	m, err := s.Apply(context.Background(), over, paidFull(ledger.DepositPaid))
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSync_Validation(t *testing.T) {
	l, _ := newLedger(t)
	s := ledger.NewSynchronizer(l, nil)
	ctx := context.Background()

	tests := []struct {
		name  string
		tr    func(*ledger.Transition)
		field string
	}{
		{"missing order id", func(tr *ledger.Transition) { tr.OrderID = "" }, "order_id"},
		{"unknown target", func(tr *ledger.Transition) { tr.To = "REFUNDED" }, "to"},
		{"unknown source", func(tr *ledger.Transition) { tr.From = "?" }, "from"},
		{"no change", func(tr *ledger.Transition) { tr.From, tr.To = ledger.DepositPaid, ledger.DepositPaid }, "to"},
		{"zero close date", func(tr *ledger.Transition) { tr.CloseDate = ledger.Date{} }, "close_date"},
		{"unknown method", func(tr *ledger.Transition) { tr.PaymentMethod = "barter" }, "payment_method"},
		{"wrong snapshot", func(tr *ledger.Transition) { tr.OrderID = "ORD-2" }, "order_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := paidFull(ledger.DepositPaid)
			tt.tr(&tr)
			_, err := s.Apply(ctx, depositOrder(), tr)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestSync_UnknownOrder(t *testing.T) {
	l, _ := newLedger(t)
	_, err := ledger.NewSynchronizer(l, staticOrders{}).Sync(context.Background(), paidFull(ledger.DepositPaid))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPaymentDelta(t *testing.T) {
	assert.Equal(t, "7000", ledger.PaymentDelta(depositOrder()).String())
	assert.Equal(t, "100", ledger.PaymentDelta(ledger.Order{Total: dec("100")}).String())
	assert.True(t, ledger.PaymentDelta(ledger.Order{Total: dec("1"), AmountReceived: ptr(dec("2"))}).IsZero())
}
