package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/app"
	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/config"
	"github.com/ariefcatur/go-marketplace-orders/internal/logx"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

type fixture struct {
	app     *app.App
	sandbox *payments.Sandbox
	clock   *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{
		ServiceName:        "order-api",
		Store:              "memory",
		Currency:           "INR",
		TaxRate:            decimal.Zero,
		ReserveMaxAttempts: 5,
		PaymentExpiry:      15 * time.Minute,
		SweepInterval:      time.Minute,
		Processor:          config.Processor{Mode: "sandbox", WebhookSecret: "whsec"},
	}
	log := logx.Discard()
	b := app.Memory(cfg, log)
	sandbox := payments.NewSandbox("whsec")
	b.Processor = sandbox

	ctx := context.Background()
	require.NoError(t, b.Seeder.UpsertProduct(ctx, catalog.Product{ID: "p1", PriceMinor: 1000, Active: true}))
	require.NoError(t, b.Seeder.SetStock(ctx, "p1", 5))

	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	a := app.New(cfg, b, clk, log)
	t.Cleanup(a.Close)
	return &fixture{app: a, sandbox: sandbox, clock: clk}
}

func (f *fixture) order(t *testing.T, customerID string, qty int) (orders.Order, payments.Checkout) {
	t.Helper()
	ctx := context.Background()
	_, err := f.app.Carts.AddItem(ctx, customerID, "p1", qty)
	require.NoError(t, err)
	snap, err := f.app.Carts.ToCheckoutSnapshot(ctx, customerID)
	require.NoError(t, err)
	created, err := f.app.Orders.CreateOrder(ctx, orders.CreateRequest{CustomerID: customerID, Snapshot: snap})
	require.NoError(t, err)
	co, err := f.app.Payments.CreateIntent(ctx, created.Order)
	require.NoError(t, err)
	return created.Order, co
}

func TestSweepExpiresUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, _ := f.order(t, "c1", 2)

	f.clock.Advance(16 * time.Minute)
	rep, err := f.app.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Expired)

	got, err := f.app.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.ReasonPaymentTimeout, got.CancelReason)

	available, err := f.app.Ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestLateCaptureIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, co := f.order(t, "c1", 1)

	f.clock.Advance(16 * time.Minute)
	_, err := f.app.Sweeper.RunOnce(ctx)
	require.NoError(t, err)

	got, err := f.app.Payments.VerifyCallback(ctx, f.sandbox.Pay(o.ID, co.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, 1, f.sandbox.RefundCount())
}

func TestSweepConfirmsCapturedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, co := f.order(t, "c1", 1)

	cb := f.sandbox.Pay(o.ID, co.ProcessorOrderID)
	intents := f.app.Backends.Intents
	in, err := intents.GetByProcessorOrder(ctx, co.ProcessorOrderID)
	require.NoError(t, err)
	// Capture recorded but the order was never confirmed, as after a crash
	// between the two writes.
	_, applied, err := intents.Update(ctx, in.ID, func(in *payments.Intent) {
		in.Status = payments.IntentCaptured
		in.ProcessorPaymentID = cb.ProcessorPaymentID
	}, payments.IntentCreated)
	require.NoError(t, err)
	require.True(t, applied)

	f.clock.Advance(16 * time.Minute)
	rep, err := f.app.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Confirmed)
	assert.Zero(t, rep.Expired)

	got, err := f.app.Orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestOpenRejectsUnknownStore(t *testing.T) {
	_, err := app.Open(context.Background(), config.Config{Store: "sqlite"}, logx.Discard())
	assert.Error(t, err)
}

func TestCancelRefundsCaptureTheOrderNeverRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, co := f.order(t, "c1", 1)

	cb := f.sandbox.Pay(o.ID, co.ProcessorOrderID)
	intents := f.app.Backends.Intents
	in, err := intents.GetByProcessorOrder(ctx, co.ProcessorOrderID)
	require.NoError(t, err)
	_, applied, err := intents.Update(ctx, in.ID, func(in *payments.Intent) {
		in.Status = payments.IntentCaptured
		in.ProcessorPaymentID = cb.ProcessorPaymentID
	}, payments.IntentCreated)
	require.NoError(t, err)
	require.True(t, applied)

	got, err := f.app.Orders.Cancel(ctx, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, 1, f.sandbox.RefundCount())

	available, err := f.app.Ledger.Available(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}
