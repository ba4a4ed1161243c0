package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/cashbook/ledger"
)

func names(cats []ledger.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = c.Name
	}
	return out
}

func TestRegistry_AddListDelete(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	reg := ledger.NewRegistry(l)

	_, err := reg.Add(ctx, "Sueldos")
	require.NoError(t, err)
	_, err = reg.Add(ctx, "Alquiler")
	require.NoError(t, err)

	_, err = reg.Add(ctx, "Sueldos")
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
	_, err = reg.Add(ctx, "  ")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	cats, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alquiler", "Sueldos"}, names(cats))

	require.NoError(t, reg.Delete(ctx, "Sueldos"))
	assert.ErrorIs(t, reg.Delete(ctx, "Sueldos"), ledger.ErrNotFound)
}

// Deleting a category keeps the label on its movements.
func TestRegistry_DeleteKeepsLabels(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	reg := ledger.NewRegistry(l)
	require.NoError(t, reg.SeedDefaults(ctx))

	m, err := l.Record(ctx, expense("10", jan10))
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, "Materia Prima"))

	got, err := l.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Materia Prima", got.Category)
}

// A rename moves every label, registered or not, or none at all.
func TestRegistry_RenameAtomic(t *testing.T) {
	notes := &recordingNotifier{}
	l, _ := newLedger(t, ledger.WithNotifier(notes))
	ctx := context.Background()
	reg := ledger.NewRegistry(l)
	require.NoError(t, reg.SeedDefaults(ctx))

	for i := 0; i < 3; i++ {
		_, err := l.Record(ctx, expense("10", jan10))
		require.NoError(t, err)
	}
	_, err := ledger.NewCloser(l).CloseDay(ctx, jan10)
	require.NoError(t, err)
	_, err = l.Record(ctx, expense("5", jan11))
	require.NoError(t, err)

	// Target exists: nothing changes.
	err = reg.Rename(ctx, "Materia Prima", "Servicios")
	assert.ErrorIs(t, err, ledger.ErrDuplicate)
	still, err := l.ListByCategory(ctx, "Materia Prima")
	require.NoError(t, err)
	assert.Len(t, still, 4)

	require.NoError(t, reg.Rename(ctx, "Materia Prima", "Insumos"))

	old, err := l.ListByCategory(ctx, "Materia Prima")
	require.NoError(t, err)
	assert.Empty(t, old)
	renamed, err := l.ListByCategory(ctx, "Insumos")
	require.NoError(t, err)
	assert.Len(t, renamed, 4)

	cats, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, names(cats), "Insumos")
	assert.NotContains(t, names(cats), "Materia Prima")
	assert.Contains(t, notes.kinds(), ledger.ChangeCategoryRenamed)
}

func TestRegistry_RenameEdgeCases(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	reg := ledger.NewRegistry(l)
	require.NoError(t, reg.SeedDefaults(ctx))

	assert.ErrorIs(t, reg.Rename(ctx, "Nope", "Other"), ledger.ErrNotFound)
	assert.ErrorIs(t, reg.Rename(ctx, "Otros", ""), ledger.ErrValidation)
	assert.NoError(t, reg.Rename(ctx, "Otros", "Otros"))
}

func TestRegistry_SeedDefaultsIsIdempotent(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()
	reg := ledger.NewRegistry(l)

	_, err := reg.Add(ctx, "Ventas")
	require.NoError(t, err)
	require.NoError(t, reg.SeedDefaults(ctx))
	require.NoError(t, reg.SeedDefaults(ctx))

	cats, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, len(ledger.DefaultCategories))
}
