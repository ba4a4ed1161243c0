package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
)

func TestCloseDay_ExpenseAndIncome(t *testing.T) {
	// GIVEN: an expense of 2000 and an income of 5000 on the same day
	l, _ := newLedger(t)
	ctx := context.Background()
	e, err := l.Record(ctx, expense("2000", jan10))
	require.NoError(t, err)
	i, err := l.Record(ctx, income("5000", jan10))
	require.NoError(t, err)

	// WHEN: the day is closed
	rec, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
	require.NoError(t, err)

	// THEN: total is 3000 and both movements are registered
	assert.Equal(t, "3000", rec.Total.String())
	assert.ElementsMatch(t, []ledger.MovementID{e.ID, i.ID}, rec.MovementIDs)
	assert.Equal(t, noon.UTC(), rec.ClosedAt)
	for _, id := range rec.MovementIDs {
		m, err := l.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, m.Registered, "movement %s should be registered", id)
	}
}

// Every unregistered movement of the day ends up in exactly one closing
// and the total matches income minus outflows over that set.
func TestCloseDay_Completeness(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	inputs := []ledger.MovementInput{
		income("100.50", jan10),
		income("20", jan10),
		expense("30.25", jan10),
		{Type: ledger.Investment, Amount: dec("40"), Date: jan10},
		income("999", jan11),
	}
	for _, in := range inputs {
		_, err := l.Record(ctx, in)
		require.NoError(t, err)
	}

	rec, err := closer.CloseDay(ctx, jan10)
	require.NoError(t, err)
	assert.True(t, rec.Total.Equal(dec("50.25")), "got %s", rec.Total)
	assert.Len(t, rec.MovementIDs, 4)

	day, err := l.ListByDate(ctx, jan10)
	require.NoError(t, err)
	for _, m := range day {
		assert.True(t, m.Registered)
	}
	other, err := l.ListByDate(ctx, jan11)
	require.NoError(t, err)
	assert.False(t, other[0].Registered)
}

// Closing the same day twice without new movements fails.
func TestCloseDay_SecondCallNothingToClose(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	_, err := l.Record(ctx, income("10", jan10))
	require.NoError(t, err)
	_, err = closer.CloseDay(ctx, jan10)
	require.NoError(t, err)

	_, err = closer.CloseDay(ctx, jan10)
	var ntc *ledger.NothingToCloseError
	require.ErrorAs(t, err, &ntc)
	assert.True(t, ntc.Date.Equal(jan10))
}

func TestCloseDay_EmptyDay(t *testing.T) {
	l, _ := newLedger(t)
	_, err := ledger.NewCloser(l).CloseDay(context.Background(), jan10)
	assert.ErrorIs(t, err, ledger.ErrNothingToClose)

	_, err = ledger.NewCloser(l).CloseDay(context.Background(), ledger.Date{})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCloseDay_LateMovementsGetSecondClosing(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	_, err := l.Record(ctx, income("10", jan10))
	require.NoError(t, err)
	first, err := closer.CloseDay(ctx, jan10)
	require.NoError(t, err)

	late, err := l.Record(ctx, income("5", jan10))
	require.NoError(t, err)
	second, err := closer.CloseDay(ctx, jan10)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []ledger.MovementID{late.ID}, second.MovementIDs)
	assert.Equal(t, "5", second.Total.String())

	list, err := closer.ClosingsForDate(ctx, jan10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestCloseDay_MethodTotals(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	for _, in := range []ledger.MovementInput{
		{Type: ledger.Income, Amount: dec("100"), Date: jan10, PaymentMethod: ledger.MethodCash},
		{Type: ledger.Income, Amount: dec("50"), Date: jan10, PaymentMethod: ledger.MethodCash},
		{Type: ledger.Income, Amount: dec("70"), Date: jan10, PaymentMethod: ledger.MethodTransfer},
		{Type: ledger.Income, Amount: dec("5"), Date: jan10},
		{Type: ledger.Expense, Amount: dec("20"), Date: jan10, PaymentMethod: ledger.MethodCash},
	} {
		_, err := l.Record(ctx, in)
		require.NoError(t, err)
	}

	rec, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
	require.NoError(t, err)
	assert.Len(t, rec.MethodTotals, 3)
	assert.Equal(t, "150", rec.MethodTotals["cash"].String())
	assert.Equal(t, "70", rec.MethodTotals["transfer"].String())
	assert.Equal(t, "5", rec.MethodTotals[ledger.MethodUnspecified].String())
	assert.Equal(t, "205", rec.Total.String())
}

func TestClosingDetail_DanglingIDs(t *testing.T) {
	l, _ := newLedger(t, ledger.AllowRegisteredDelete(true))
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	a, err := l.Record(ctx, income("10", jan10))
	require.NoError(t, err)
	_, err = l.Record(ctx, income("20", jan10))
	require.NoError(t, err)
	rec, err := closer.CloseDay(ctx, jan10)
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, a.ID))

	detail, err := closer.Detail(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Movements, 1)
	assert.Equal(t, 1, detail.Missing)
	assert.Equal(t, "30", detail.Closing.Total.String(), "stored totals never change")

	_, err = closer.Detail(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestPendingDates(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	for _, d := range []ledger.Date{jan10, jan11, jan10} {
		_, err := l.Record(ctx, income("1", d))
		require.NoError(t, err)
	}

	pending, err := closer.PendingDates(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Equal(jan11))
	assert.True(t, pending[1].Equal(jan10))

	_, err = closer.CloseDay(ctx, jan11)
	require.NoError(t, err)
	pending, err = closer.PendingDates(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Equal(jan10))
}

func TestClosings_Range(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	for _, d := range []ledger.Date{jan11, jan10} {
		_, err := l.Record(ctx, income("1", d))
		require.NoError(t, err)
		_, err = closer.CloseDay(ctx, d)
		require.NoError(t, err)
	}

	list, err := closer.Closings(ctx, jan10, jan11)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Date.Equal(jan10), "oldest first")

	got, err := closer.Get(ctx, list[1].ID)
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(jan11))

	_, err = closer.Closings(ctx, jan11, jan10)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSummarize(t *testing.T) {
	rec := ledger.Summarize(nil)
	assert.True(t, rec.Total.IsZero())
	assert.Empty(t, rec.MethodTotals)
	assert.Empty(t, rec.MovementIDs)
}
