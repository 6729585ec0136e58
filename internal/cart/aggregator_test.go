package cart_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/logx"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
)

type fixture struct {
	agg     *cart.Aggregator
	catalog *memstore.Catalog
	stock   *memstore.StockStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	cat := memstore.NewCatalog(
		catalog.Product{ID: "x", SupplierID: "sup-1", Name: "Kettle", PriceMinor: 1500, Active: true},
		catalog.Product{ID: "y", SupplierID: "sup-2", Name: "Mug", PriceMinor: 300, Active: true},
		catalog.Product{ID: "old", SupplierID: "sup-2", Name: "Retired", PriceMinor: 100, Active: false},
	)
	stock := memstore.NewStockStore()
	stock.SetStock("x", 2)
	stock.SetStock("y", 0)
	ledger := inventory.NewLedger(stock, clk, logx.Discard())
	agg := cart.NewAggregator(memstore.NewCartStore(), cat, ledger, clk, logx.Discard())
	return fixture{agg: agg, catalog: cat, stock: stock}
}

func TestAddItem_MergesLinesAndSnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 1)
	require.NoError(t, err)
	c, err := f.agg.AddItem(ctx, "cust-1", "x", 2)
	require.NoError(t, err)

	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	assert.Equal(t, int64(1500), c.Lines[0].PriceSnapshotMinor)
}

func TestAddItem_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 0)
	assert.True(t, errors.Is(err, cart.ErrInvalidQuantity))

	_, err = f.agg.AddItem(ctx, "cust-1", "old", 1)
	assert.True(t, errors.Is(err, cart.ErrUnavailable))

	_, err = f.agg.AddItem(ctx, "cust-1", "ghost", 1)
	assert.True(t, errors.Is(err, catalog.ErrProductNotFound))

	_, err = f.agg.AddItem(ctx, "cust-1", "x", cart.MaxLineQuantity)
	require.NoError(t, err)
	_, err = f.agg.AddItem(ctx, "cust-1", "x", 1)
	assert.True(t, errors.Is(err, cart.ErrInvalidQuantity))
}

func TestUpdateRemoveClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 1)
	require.NoError(t, err)
	_, err = f.agg.AddItem(ctx, "cust-1", "y", 1)
	require.NoError(t, err)

	c, err := f.agg.UpdateQuantity(ctx, "cust-1", "x", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Lines[0].Quantity)

	_, err = f.agg.UpdateQuantity(ctx, "cust-1", "ghost", 1)
	assert.True(t, errors.Is(err, cart.ErrLineNotFound))

	c, err = f.agg.RemoveItem(ctx, "cust-1", "x")
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, "y", c.Lines[0].ProductID)

	require.NoError(t, f.agg.Clear(ctx, "cust-1"))
	c, err = f.agg.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
}

func TestToCheckoutSnapshot_Valid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 2)
	require.NoError(t, err)

	snap, err := f.agg.ToCheckoutSnapshot(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, "sup-1", snap.Lines[0].SupplierID)
	assert.Equal(t, int64(1500), snap.Lines[0].UnitPriceMinor)
}

func TestToCheckoutSnapshot_ReportsEveryIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 2)
	require.NoError(t, err)
	_, err = f.agg.AddItem(ctx, "cust-1", "y", 1)
	require.NoError(t, err)
	f.catalog.SetPrice("x", 1700)

	_, err = f.agg.ToCheckoutSnapshot(ctx, "cust-1")
	var ce *cart.CheckoutError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, apperr.KindInsufficientStock, apperr.KindOf(err))

	kinds := map[string]cart.IssueKind{}
	for _, is := range ce.Issues {
		kinds[is.ProductID] = is.Kind
	}
	assert.Equal(t, cart.IssuePriceChanged, kinds["x"])
	assert.Equal(t, cart.IssueInsufficientStock, kinds["y"])

	// the new price is accepted into the cart
	c, err := f.agg.Get(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1700), c.Lines[0].PriceSnapshotMinor)
}

func TestToCheckoutSnapshot_PriceChangeOnlyIsValidationError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.AddItem(ctx, "cust-1", "x", 1)
	require.NoError(t, err)
	f.catalog.SetPrice("x", 1400)

	_, err = f.agg.ToCheckoutSnapshot(ctx, "cust-1")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	snap, err := f.agg.ToCheckoutSnapshot(ctx, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1400), snap.Lines[0].UnitPriceMinor)
}

func TestToCheckoutSnapshot_EmptyAndRetired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.agg.ToCheckoutSnapshot(ctx, "nobody")
	assert.True(t, errors.Is(err, cart.ErrEmptyCart))

	_, err = f.agg.AddItem(ctx, "cust-2", "x", 1)
	require.NoError(t, err)
	f.catalog.Put(catalog.Product{ID: "x", SupplierID: "sup-1", PriceMinor: 1500, Active: false})

	_, err = f.agg.ToCheckoutSnapshot(ctx, "cust-2")
	var ce *cart.CheckoutError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, cart.IssueUnavailable, ce.Issues[0].Kind)
}
