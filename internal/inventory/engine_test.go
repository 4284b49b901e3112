package inventory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ariefcatur/go-retail-orders/internal/inventory"
	"github.com/ariefcatur/go-retail-orders/internal/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(q int) inventory.Line {
	return inventory.Line{ProductID: uuid.New(), VariantID: uuid.New(), Quantity: q}
}

func level(t *testing.T, e *inventory.Engine, l inventory.Line) inventory.StockLevel {
	t.Helper()
	lv, err := e.Level(context.Background(), l)
	require.NoError(t, err)
	return lv
}

func TestReserveReleaseConserves(t *testing.T) {
	ctx := context.Background()
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)

	for _, q := range []int{1, 3, 7} {
		l := line(q)
		stock.Put(l.ProductID, l.VariantID, 10, 2)

		require.NoError(t, e.Reserve(ctx, l))
		assert.Equal(t, 2+q, level(t, e, l).Reserved)
		require.NoError(t, e.Release(ctx, l))
		assert.Equal(t, 2, level(t, e, l).Reserved)
		assert.Equal(t, 10, level(t, e, l).OnHand)
	}
}

func TestReserveInsufficient(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	l := line(4)
	stock.Put(l.ProductID, l.VariantID, 5, 2)

	err := e.Reserve(context.Background(), l)
	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 3, ise.Available)
	assert.Equal(t, 4, ise.Requested)
	assert.Equal(t, 2, level(t, e, l).Reserved)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	l := line(5)
	stock.Put(l.ProductID, l.VariantID, 10, 2)

	require.NoError(t, e.Release(context.Background(), l))
	assert.Equal(t, 0, level(t, e, l).Reserved)
}

func TestFinalizeExactReserved(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	l := line(3)
	stock.Put(l.ProductID, l.VariantID, 8, 3)

	require.NoError(t, e.Finalize(context.Background(), l))
	lv := level(t, e, l)
	assert.Equal(t, 5, lv.OnHand)
	assert.Equal(t, 0, lv.Reserved)
}

func TestFinalizeRejectsShortOnHand(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	l := line(3)
	stock.Put(l.ProductID, l.VariantID, 2, 2)

	assert.ErrorIs(t, e.Finalize(context.Background(), l), inventory.ErrOnHandShort)
	lv := level(t, e, l)
	assert.Equal(t, 2, lv.OnHand)
	assert.Equal(t, 2, lv.Reserved)
}

func TestRejectsNonPositiveQuantity(t *testing.T) {
	e := inventory.NewEngine(memstore.NewStock(), nil)
	ctx := context.Background()
	assert.ErrorIs(t, e.Reserve(ctx, line(0)), inventory.ErrInvalidQuantity)
	assert.ErrorIs(t, e.Release(ctx, line(-1)), inventory.ErrInvalidQuantity)
	assert.ErrorIs(t, e.Finalize(ctx, line(0)), inventory.ErrInvalidQuantity)
}

func TestReserveAllCompensates(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	a, b, c := line(3), line(1), line(2)
	stock.Put(a.ProductID, a.VariantID, 5, 0)
	stock.Put(b.ProductID, b.VariantID, 4, 1)
	stock.Put(c.ProductID, c.VariantID, 1, 0)

	err := e.ReserveAll(context.Background(), []inventory.Line{a, b, c})
	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, c.VariantID, ise.VariantID)

	assert.Equal(t, 0, level(t, e, a).Reserved)
	assert.Equal(t, 1, level(t, e, b).Reserved)
	assert.Equal(t, 0, level(t, e, c).Reserved)
}

func TestReserveAllReportsFailedCompensation(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	a, b := line(2), line(2)
	stock.Put(a.ProductID, a.VariantID, 5, 0)
	stock.Put(b.ProductID, b.VariantID, 1, 0)
	stock.FailOn("release", a.VariantID, errors.New("timeout"))

	err := e.ReserveAll(context.Background(), []inventory.Line{a, b})
	require.Error(t, err)
	assert.ErrorContains(t, err, "compensation failed")
	var ise *inventory.InsufficientStockError
	assert.ErrorAs(t, err, &ise)
	assert.Equal(t, 2, level(t, e, a).Reserved, "release failed so the hold remains")
}

func TestFinalizeAllContinuesPastFailures(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	a, b, c := line(1), line(2), line(3)
	for _, l := range []inventory.Line{a, b, c} {
		stock.Put(l.ProductID, l.VariantID, 10, l.Quantity)
	}
	stock.FailOn("finalize", b.VariantID, errors.New("conn reset"))

	failed := e.FinalizeAll(context.Background(), []inventory.Line{a, b, c})
	require.Len(t, failed, 1)
	assert.Equal(t, b, failed[0].Line)
	assert.Equal(t, 9, level(t, e, a).OnHand)
	assert.Equal(t, 10, level(t, e, b).OnHand)
	assert.Equal(t, 7, level(t, e, c).OnHand)
}

func TestReleaseAllContinuesPastFailures(t *testing.T) {
	stock := memstore.NewStock()
	e := inventory.NewEngine(stock, nil)
	a, b := line(1), line(2)
	stock.Put(a.ProductID, a.VariantID, 10, 1)

	failed := e.ReleaseAll(context.Background(), []inventory.Line{b, a})
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, inventory.ErrVariantNotFound)
	assert.Equal(t, 0, level(t, e, a).Reserved)
}
