// Package storetest holds the behaviour every ledger.TxStore must share.
// Backends call Run from their own tests with a factory for empty stores.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
)

// Factory returns an empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) ledger.TxStore

var (
	day1 = ledger.MustParseDate("2025-03-01")
	day2 = ledger.MustParseDate("2025-03-02")
)

func movement(id string, date ledger.Date, clock string, amount string) ledger.Movement {
	tod, err := ledger.ParseTimeOfDay(clock)
	if err != nil {
		panic(err)
	}
	return ledger.Movement{
		ID:            ledger.MovementID(id),
		Type:          ledger.Income,
		Amount:        decimal.RequireFromString(amount),
		Category:      ledger.SalesCategory,
		Date:          date,
		Time:          tod,
		PaymentMethod: ledger.MethodCash,
		Version:       1,
		CreatedAt:     time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC),
	}
}

func ids(ms []ledger.Movement) []ledger.MovementID {
	out := make([]ledger.MovementID, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

// Run exercises the full ledger.Store contract against fresh stores.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("IdempotencyKeyUnique", func(t *testing.T) { testIdempotencyKey(t, newStore(t)) })
	t.Run("CompareAndSwapUpdate", func(t *testing.T) { testCASUpdate(t, newStore(t)) })
	t.Run("Ordering", func(t *testing.T) { testOrdering(t, newStore(t)) })
	t.Run("MarkRegistered", func(t *testing.T) { testMarkRegistered(t, newStore(t)) })
	t.Run("Categories", func(t *testing.T) { testCategories(t, newStore(t)) })
	t.Run("Closings", func(t *testing.T) { testClosings(t, newStore(t)) })
	t.Run("ClosingsDoNotAlias", func(t *testing.T) { testClosingsDoNotAlias(t, newStore(t)) })
	t.Run("TxRollback", func(t *testing.T) { testTxRollback(t, newStore(t)) })
}

func testInsertAndGet(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	in := movement("m1", day1, "10:15:00", "12.50")
	in.Description = "torta"
	in.ClientName = "Ana"
	in.OrderID = "ORD-1"

	got, err := s.InsertMovement(ctx, in)
	require.NoError(t, err)
	assert.Positive(t, got.Seq)

	back, err := s.GetMovement(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, got.Seq, back.Seq)
	assert.True(t, back.Amount.Equal(in.Amount))
	assert.True(t, back.Date.Equal(day1))
	assert.Equal(t, "10:15:00", back.Time.String())
	assert.Equal(t, "torta", back.Description)
	assert.Equal(t, "Ana", back.ClientName)
	assert.Equal(t, ledger.OrderID("ORD-1"), back.OrderID)
	assert.Equal(t, ledger.MethodCash, back.PaymentMethod)
	assert.True(t, back.CreatedAt.Equal(in.CreatedAt))
	assert.Empty(t, back.IdempotencyKey)

	_, err = s.GetMovement(ctx, "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testIdempotencyKey(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	a := movement("a", day1, "10:00:00", "1")
	a.IdempotencyKey = "k1"
	_, err := s.InsertMovement(ctx, a)
	require.NoError(t, err)

	b := movement("b", day1, "10:00:00", "2")
	b.IdempotencyKey = "k1"
	_, err = s.InsertMovement(ctx, b)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateIdempotencyKey), "got %v", err)

	// Empty keys never collide.
	_, err = s.InsertMovement(ctx, movement("c", day1, "10:00:00", "3"))
	require.NoError(t, err)
	_, err = s.InsertMovement(ctx, movement("d", day1, "10:00:00", "4"))
	require.NoError(t, err)

	found, ok, err := s.FindByIdempotencyKey(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.MovementID("a"), found.ID)

	_, ok, err = s.FindByIdempotencyKey(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting frees the key.
	deleted, err := s.DeleteMovement(ctx, "a", true)
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = s.InsertMovement(ctx, b)
	require.NoError(t, err)

	deleted, err = s.DeleteMovement(ctx, "a", true)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testCASUpdate(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	_, err := s.InsertMovement(ctx, movement("m", day1, "10:00:00", "1"))
	require.NoError(t, err)

	next := movement("m", day2, "11:00:00", "2")
	next.Version = 2
	ok, err := s.UpdateMovement(ctx, next)
	require.NoError(t, err)
	assert.True(t, ok)

	// Same version again: stale.
	ok, err = s.UpdateMovement(ctx, next)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetMovement(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "2", got.Amount.String())
	assert.True(t, got.Date.Equal(day2))

	n, err := s.MarkRegistered(ctx, []ledger.MovementID{"m"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	next.Version = 3
	ok, err = s.UpdateMovement(ctx, next)
	require.NoError(t, err)
	assert.False(t, ok, "registered rows never match")
}

func testOrdering(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	for _, m := range []ledger.Movement{
		movement("morning", day1, "08:00:00", "1"),
		movement("late-a", day1, "18:00:00", "1"),
		movement("other-day", day2, "07:00:00", "1"),
		movement("late-b", day1, "18:00:00", "1"),
	} {
		_, err := s.InsertMovement(ctx, m)
		require.NoError(t, err)
	}

	all, err := s.ListMovements(ctx, ledger.MovementFilter{})
	require.NoError(t, err)
	assert.Equal(t, []ledger.MovementID{"other-day", "late-a", "late-b", "morning"}, ids(all))

	d := day1
	onDay, err := s.ListMovements(ctx, ledger.MovementFilter{Date: &d})
	require.NoError(t, err)
	assert.Len(t, onDay, 3)

	cat := "Nope"
	none, err := s.ListMovements(ctx, ledger.MovementFilter{Category: &cat})
	require.NoError(t, err)
	assert.Empty(t, none)

	ranged, err := s.ListMovements(ctx, ledger.MovementFilter{From: &day2, To: &day2})
	require.NoError(t, err)
	assert.Equal(t, []ledger.MovementID{"other-day"}, ids(ranged))
}

func testMarkRegistered(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	for _, m := range []ledger.Movement{
		movement("a", day1, "10:00:00", "1"),
		movement("b", day1, "10:00:00", "1"),
		movement("c", day2, "10:00:00", "1"),
	} {
		_, err := s.InsertMovement(ctx, m)
		require.NoError(t, err)
	}

	pending, err := s.PendingDates(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.True(t, pending[0].Equal(day2), "newest first")

	n, err := s.MarkRegistered(ctx, []ledger.MovementID{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already registered rows are not counted again.
	n, err = s.MarkRegistered(ctx, []ledger.MovementID{"a", "c"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := day1
	open, err := s.ListMovements(ctx, ledger.MovementFilter{Date: &d, Unregistered: true})
	require.NoError(t, err)
	assert.Empty(t, open)

	pending, err = s.PendingDates(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A registered row survives an unregistered-only delete.
	deleted, err := s.DeleteMovement(ctx, "a", true)
	require.NoError(t, err)
	assert.False(t, deleted)
	_, err = s.GetMovement(ctx, "a")
	require.NoError(t, err)

	deleted, err = s.DeleteMovement(ctx, "a", false)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func testCategories(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertCategory(ctx, ledger.Category{Name: "Sueldos"}))
	require.NoError(t, s.InsertCategory(ctx, ledger.Category{Name: "Alquiler"}))
	assert.ErrorIs(t, s.InsertCategory(ctx, ledger.Category{Name: "Sueldos"}), ledger.ErrDuplicate)

	exists, err := s.CategoryExists(ctx, "Sueldos")
	require.NoError(t, err)
	assert.True(t, exists)

	m := movement("m", day1, "10:00:00", "1")
	m.Category = "Sueldos"
	_, err = s.InsertMovement(ctx, m)
	require.NoError(t, err)
	_, err = s.MarkRegistered(ctx, []ledger.MovementID{"m"})
	require.NoError(t, err)

	n, err := s.RenameCategory(ctx, "Sueldos", "Salarios")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetMovement(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "Salarios", got.Category, "registered movements are relabelled too")

	_, err = s.RenameCategory(ctx, "Salarios", "Alquiler")
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Category{{Name: "Alquiler"}, {Name: "Salarios"}}, cats)

	ok, err := s.DeleteCategory(ctx, "Salarios")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteCategory(ctx, "Salarios")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetMovement(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, "Salarios", got.Category)
}

func testClosings(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	rec := ledger.ClosingRecord{
		ID:    "c1",
		Date:  day1,
		Total: decimal.RequireFromString("150.75"),
		MethodTotals: map[string]decimal.Decimal{
			"cash":                   decimal.RequireFromString("100"),
			ledger.MethodUnspecified: decimal.RequireFromString("50.75"),
		},
		MovementIDs: []ledger.MovementID{"a", "b"},
		ClosedAt:    time.Date(2025, time.March, 1, 21, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.InsertClosing(ctx, rec))

	later := rec
	later.ID = "c0"
	later.Date = day2
	later.MovementIDs = []ledger.MovementID{"c"}
	require.NoError(t, s.InsertClosing(ctx, later))

	got, err := s.GetClosing(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Date.Equal(day1))
	assert.Equal(t, "150.75", got.Total.String())
	assert.Equal(t, []ledger.MovementID{"a", "b"}, got.MovementIDs)
	assert.Equal(t, "100", got.MethodTotals["cash"].String())
	assert.Equal(t, "50.75", got.MethodTotals[ledger.MethodUnspecified].String())
	assert.True(t, got.ClosedAt.Equal(rec.ClosedAt))

	_, err = s.GetClosing(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	list, err := s.ListClosings(ctx, day1, day2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ledger.ClosingID("c1"), list[0].ID)
	assert.Equal(t, ledger.ClosingID("c0"), list[1].ID)

	only, err := s.ListClosings(ctx, day2, day2)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, ledger.ClosingID("c0"), only[0].ID)
}

// Stored closings are immutable: changing the record passed in, or one
// read back, never reaches the store.
func testClosingsDoNotAlias(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	rec := ledger.ClosingRecord{
		ID:           "c1",
		Date:         day1,
		Total:        decimal.RequireFromString("100"),
		MethodTotals: map[string]decimal.Decimal{"cash": decimal.RequireFromString("100")},
		MovementIDs:  []ledger.MovementID{"a"},
		ClosedAt:     time.Date(2025, time.March, 1, 21, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.InsertClosing(ctx, rec))
	rec.MethodTotals["cash"] = decimal.RequireFromString("1")
	rec.MovementIDs[0] = "x"

	got, err := s.GetClosing(ctx, "c1")
	require.NoError(t, err)
	got.MethodTotals["cash"] = decimal.RequireFromString("999999")
	got.MovementIDs[0] = "bogus"

	list, err := s.ListClosings(ctx, day1, day1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	list[0].MethodTotals["transfer"] = decimal.RequireFromString("5")

	again, err := s.GetClosing(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cash": "100"}, totalsOf(again))
	assert.Equal(t, []ledger.MovementID{"a"}, again.MovementIDs)
}

func totalsOf(c ledger.ClosingRecord) map[string]string {
	out := make(map[string]string, len(c.MethodTotals))
	for k, v := range c.MethodTotals {
		out[k] = v.String()
	}
	return out
}

func testTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if _, err := tx.InsertMovement(ctx, movement("m", day1, "10:00:00", "1")); err != nil {
			return err
		}
		if err := tx.InsertCategory(ctx, ledger.Category{Name: "X"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetMovement(ctx, "m")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	exists, err := s.CategoryExists(ctx, "X")
	require.NoError(t, err)
	assert.False(t, exists)

	err = s.WithTx(ctx, func(tx ledger.Store) error {
		_, err := tx.InsertMovement(ctx, movement("m", day1, "10:00:00", "1"))
		return err
	})
	require.NoError(t, err)
	_, err = s.GetMovement(ctx, "m")
	require.NoError(t, err)
}
