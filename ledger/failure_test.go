package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
	"github.com/warp/cashbook/ledger/store"
)

var errWriteFailed = errors.New("write failed")

// faultyStore lets a chosen write inside WithTx reach the store and then
// fail, so the rollback has real changes to undo.
type faultyStore struct {
	*store.Memory
	failOn   string // InsertClosing, MarkRegistered or RenameCategory
	shortBy  int    // MarkRegistered reports this many rows fewer
	staleGet bool   // GetMovement reports registered rows as unregistered
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&faultyTx{Store: s, parent: f})
	})
}

type faultyTx struct {
	ledger.Store
	parent *faultyStore
}

func (tx *faultyTx) InsertClosing(ctx context.Context, c ledger.ClosingRecord) error {
	if err := tx.Store.InsertClosing(ctx, c); err != nil {
		return err
	}
	if tx.parent.failOn == "InsertClosing" {
		return errWriteFailed
	}
	return nil
}

func (tx *faultyTx) MarkRegistered(ctx context.Context, ids []ledger.MovementID) (int, error) {
	n, err := tx.Store.MarkRegistered(ctx, ids)
	if err != nil {
		return n, err
	}
	if tx.parent.failOn == "MarkRegistered" {
		return 0, errWriteFailed
	}
	return n - tx.parent.shortBy, nil
}

func (tx *faultyTx) RenameCategory(ctx context.Context, oldName, newName string) (int, error) {
	n, err := tx.Store.RenameCategory(ctx, oldName, newName)
	if err != nil {
		return n, err
	}
	if tx.parent.failOn == "RenameCategory" {
		return 0, errWriteFailed
	}
	return n, nil
}

func (tx *faultyTx) GetMovement(ctx context.Context, id ledger.MovementID) (ledger.Movement, error) {
	m, err := tx.Store.GetMovement(ctx, id)
	if err == nil && tx.parent.staleGet {
		m.Registered = false
	}
	return m, err
}

// sequentialIDs returns "id-1", "id-2", ...
func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newFaultyLedger(t *testing.T) (*ledger.Ledger, *faultyStore) {
	t.Helper()
	fs := &faultyStore{Memory: store.NewMemory()}
	l := ledger.NewLedger(fs,
		ledger.WithClock(func() time.Time { return noon }),
		ledger.WithIDGenerator(sequentialIDs()))
	return l, fs
}

// assertDayOpen checks that nothing of a closing attempt on jan10 survived.
func assertDayOpen(t *testing.T, l *ledger.Ledger, want int) {
	t.Helper()
	ctx := context.Background()
	closer := ledger.NewCloser(l)

	closings, err := closer.ClosingsForDate(ctx, jan10)
	require.NoError(t, err)
	assert.Empty(t, closings)

	day, err := l.ListByDate(ctx, jan10)
	require.NoError(t, err)
	require.Len(t, day, want)
	for _, m := range day {
		assert.False(t, m.Registered, "movement %s should still be unregistered", m.ID)
	}

	pending, err := closer.PendingDates(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Equal(jan10))
}

func TestCloseDay_FailureLeavesDayOpen(t *testing.T) {
	tests := []struct {
		name    string
		failOn  string
		shortBy int
		wantErr error
	}{
		{"closing insert fails", "InsertClosing", 0, errWriteFailed},
		{"flagging fails", "MarkRegistered", 0, errWriteFailed},
		{"flagged count short", "", 1, ledger.ErrConcurrencyConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, fs := newFaultyLedger(t)
			ctx := context.Background()
			for _, in := range []ledger.MovementInput{income("100", jan10), expense("30", jan10)} {
				_, err := l.Record(ctx, in)
				require.NoError(t, err)
			}

			fs.failOn, fs.shortBy = tt.failOn, tt.shortBy
			_, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
			require.ErrorIs(t, err, tt.wantErr)
			assertDayOpen(t, l, 2)

			// A retry after the fault clears sees the same set.
			fs.failOn, fs.shortBy = "", 0
			rec, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
			require.NoError(t, err)
			assert.Equal(t, ledger.ClosingID("id-4"), rec.ID)
			assert.ElementsMatch(t, []ledger.MovementID{"id-1", "id-2"}, rec.MovementIDs)
			assert.Equal(t, "70", rec.Total.String())
		})
	}
}

func TestCloseDay_ShortCountIsRetryable(t *testing.T) {
	l, fs := newFaultyLedger(t)
	ctx := context.Background()
	_, err := l.Record(ctx, income("10", jan10))
	require.NoError(t, err)

	fs.shortBy = 1
	_, err = ledger.NewCloser(l).CloseDay(ctx, jan10)
	var cc *ledger.ConcurrencyConflictError
	require.ErrorAs(t, err, &cc)
	assert.Equal(t, "closing", cc.Kind)
	assert.Equal(t, "2025-01-10", cc.ID)
	assert.True(t, ledger.IsRetryable(err))
}

func TestRename_FailureKeepsLabels(t *testing.T) {
	l, fs := newFaultyLedger(t)
	ctx := context.Background()
	reg := ledger.NewRegistry(l)
	require.NoError(t, reg.SeedDefaults(ctx))

	for _, d := range []ledger.Date{jan10, jan11} {
		_, err := l.Record(ctx, expense("10", d))
		require.NoError(t, err)
	}
	_, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
	require.NoError(t, err)

	fs.failOn = "RenameCategory"
	err = reg.Rename(ctx, "Materia Prima", "Insumos")
	require.ErrorIs(t, err, errWriteFailed)

	kept, err := l.ListByCategory(ctx, "Materia Prima")
	require.NoError(t, err)
	assert.Len(t, kept, 2)
	moved, err := l.ListByCategory(ctx, "Insumos")
	require.NoError(t, err)
	assert.Empty(t, moved)

	cats, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, names(cats), "Materia Prima")
	assert.NotContains(t, names(cats), "Insumos")
}

// A movement registered between Delete's read and its delete stays put.
func TestDelete_RegisteredUnderneath(t *testing.T) {
	l, fs := newFaultyLedger(t)
	ctx := context.Background()
	m, err := l.Record(ctx, income("10", jan10))
	require.NoError(t, err)
	_, err = ledger.NewCloser(l).CloseDay(ctx, jan10)
	require.NoError(t, err)

	fs.staleGet = true
	err = l.Delete(ctx, m.ID)
	var imm *ledger.ImmutableRecordError
	require.ErrorAs(t, err, &imm)
	assert.Equal(t, m.ID, imm.MovementID)

	fs.staleGet = false
	stored, err := l.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, stored.Registered)
}
