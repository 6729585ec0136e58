package payments_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
	"github.com/ariefcatur/go-marketplace-orders/internal/logx"
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/ariefcatur/go-marketplace-orders/internal/refunds"
)

const secret = "whsec_test"

type env struct {
	gw      *payments.Gateway
	mgr     *orders.Manager
	orders  *memstore.OrderStore
	intents *memstore.IntentStore
	stock   *memstore.StockStore
	sandbox *payments.Sandbox
	events  *memstore.Events
	clock   *clock.Manual
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		orders:  memstore.NewOrderStore(),
		intents: memstore.NewIntentStore(),
		stock:   memstore.NewStockStore(),
		sandbox: payments.NewSandbox(secret),
		events:  &memstore.Events{},
		clock:   clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
	e.stock.SetStock("x", 10)
	log := logx.Discard()
	ledger := inventory.NewLedger(e.stock, e.clock, log)
	coord := refunds.NewCoordinator(memstore.NewRefundStore(), e.orders, e.intents, e.sandbox, e.clock, log, refunds.WithEvents(e.events))
	e.mgr = orders.NewManager(e.orders, ledger, orders.Pricing{TaxRate: decimal.Zero}, e.clock, log,
		orders.WithCaptureChecker(payments.CaptureLookup{Store: e.intents}),
		orders.WithRefunder(coord),
		orders.WithPublisher(e.events),
	)
	e.gw = payments.NewGateway(e.intents, e.sandbox, e.mgr, payments.GatewayConfig{WebhookSecret: secret, KeyID: "key_1"}, e.clock, log,
		payments.WithEvents(e.events),
		payments.WithDeduper(memstore.NewDedup()),
	)
	return e
}

func (e *env) order(t *testing.T) orders.Order {
	t.Helper()
	res, err := e.mgr.CreateOrder(context.Background(), orders.CreateRequest{
		CustomerID: "cust-1",
		Snapshot:   cart.Snapshot{Lines: []cart.SnapshotLine{{ProductID: "x", Quantity: 2, UnitPriceMinor: 1000}}},
	})
	require.NoError(t, err)
	return res.Order
}

func (e *env) open(t *testing.T) (orders.Order, payments.Checkout) {
	t.Helper()
	o := e.order(t)
	co, err := e.gw.CreateIntent(context.Background(), o)
	require.NoError(t, err)
	return o, co
}

func TestCreateIntent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)

	co, err := e.gw.CreateIntent(ctx, o)
	require.NoError(t, err)
	assert.NotEmpty(t, co.ProcessorOrderID)
	assert.Equal(t, o.TotalMinor, co.AmountMinor)
	assert.Equal(t, "INR", co.Currency)
	assert.Equal(t, "key_1", co.KeyID)

	again, err := e.gw.CreateIntent(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, co, again)

	got, err := e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
}

func TestCreateIntent_ProcessorDown(t *testing.T) {
	e := newEnv(t)
	e.sandbox.FailCreate = func() error { return payments.ErrProcessorUnavailable }
	o := e.order(t)

	_, err := e.gw.CreateIntent(context.Background(), o)
	assert.Equal(t, apperr.KindProcessorUnavailable, apperr.KindOf(err))

	_, err = e.intents.GetByOrder(context.Background(), o.ID)
	assert.True(t, errors.Is(err, payments.ErrIntentNotFound))
}

func TestCreateIntent_OrderNotPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o := e.order(t)
	cancelled, err := e.mgr.Cancel(ctx, o.ID, "")
	require.NoError(t, err)

	_, err = e.gw.CreateIntent(ctx, cancelled)
	assert.True(t, errors.Is(err, payments.ErrOrderNotPayable))
}

func TestVerifyCallback_ConfirmsOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)

	got, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, co.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, orders.PaymentCaptured, got.PaymentStatus)

	in, err := e.gw.Intent(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentCaptured, in.Status)
	assert.NotNil(t, in.CapturedAt)

	rec, err := e.stock.GetStock(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestVerifyCallback_DeliveredTwice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)
	cb := e.sandbox.Pay(o.ID, co.ProcessorOrderID)

	first, err := e.gw.VerifyCallback(ctx, cb)
	require.NoError(t, err)
	second, err := e.gw.VerifyCallback(ctx, cb)
	require.NoError(t, err)

	assert.Equal(t, orders.StatusConfirmed, first.Status)
	assert.Equal(t, orders.StatusConfirmed, second.Status)
	assert.Equal(t, first.ConfirmedAt, second.ConfirmedAt)
	assert.Equal(t, 1, e.events.Count(events.TypeOrderConfirmed))

	rec, err := e.stock.GetStock(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 8, rec.Available)
	assert.Equal(t, 0, rec.Reserved)
}

func TestVerifyCallback_TamperedPayloadFailsClosed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)

	cb := e.sandbox.Pay(o.ID, co.ProcessorOrderID)
	forged := cb
	forged.ProcessorPaymentID = "pay_attacker"
	forged.Signature = payments.Sign([]byte("not-the-secret"), forged.ProcessorOrderID, forged.ProcessorPaymentID)

	_, err := e.gw.VerifyCallback(ctx, forged)
	require.Error(t, err)
	assert.True(t, errors.Is(err, payments.ErrInvalidSignature))
	assert.Equal(t, "payment verification failed", apperr.MessageOf(err))

	in, err := e.gw.Intent(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentFailed, in.Status)
	assert.Equal(t, "signature_mismatch", in.FailureCode)

	got, err := e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
	assert.Equal(t, orders.PaymentFailed, got.PaymentStatus)
	assert.Equal(t, 1, e.events.Count(events.TypePaymentFailed))

	// the genuine callback still settles the payment
	got, err = e.gw.VerifyCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestVerifyCallback_RejectsUnknownAndMismatched(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)

	_, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, "order_unknown"))
	assert.True(t, errors.Is(err, payments.ErrInvalidSignature))

	cb := e.sandbox.Pay("some-other-order", co.ProcessorOrderID)
	_, err = e.gw.VerifyCallback(ctx, cb)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	got, err := e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
}

func TestHandleFailure_KeepsStockAndAllowsRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)

	in, err := e.gw.HandleFailure(ctx, o.ID, payments.Failure{Code: "BAD_REQUEST_ERROR", Description: "card declined"})
	require.NoError(t, err)
	assert.Equal(t, payments.IntentFailed, in.Status)
	assert.Equal(t, "card declined", in.FailureReason)

	got, err := e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPendingPayment, got.Status)
	assert.Equal(t, orders.PaymentFailed, got.PaymentStatus)
	rec, err := e.stock.GetStock(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Reserved)

	retry, err := e.gw.CreateIntent(ctx, got)
	require.NoError(t, err)
	assert.NotEqual(t, co.ProcessorOrderID, retry.ProcessorOrderID)
	assert.Equal(t, co.IntentID, retry.IntentID)

	got, err = e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentUnpaid, got.PaymentStatus)

	got, err = e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, retry.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}

func TestHandleFailure_AfterCapture(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)
	_, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, co.ProcessorOrderID))
	require.NoError(t, err)

	_, err = e.gw.HandleFailure(ctx, o.ID, payments.Failure{Description: "late decline"})
	assert.True(t, errors.Is(err, payments.ErrAlreadyCaptured))
}

func TestVerifyCallback_LateCaptureIsRefunded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, co := e.open(t)
	_, err := e.mgr.Cancel(ctx, o.ID, "payment_timeout")
	require.NoError(t, err)

	got, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, co.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, 1, e.sandbox.RefundCount())

	rec, err := e.stock.GetStock(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Available)
}

func (e *env) reopen(t *testing.T, o orders.Order) payments.Checkout {
	t.Helper()
	ctx := context.Background()
	_, err := e.gw.HandleFailure(ctx, o.ID, payments.Failure{Code: "BAD_REQUEST_ERROR", Description: "card declined"})
	require.NoError(t, err)
	pending, err := e.mgr.Get(ctx, o.ID)
	require.NoError(t, err)
	retry, err := e.gw.CreateIntent(ctx, pending)
	require.NoError(t, err)
	return retry
}

func TestVerifyCallback_CaptureOnSupersededProcessorOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, first := e.open(t)
	retry := e.reopen(t, o)
	require.NotEqual(t, first.ProcessorOrderID, retry.ProcessorOrderID)

	// the processor settles the first attempt after all
	got, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, first.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, orders.PaymentCaptured, got.PaymentStatus)

	in, err := e.gw.Intent(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentCaptured, in.Status)
	assert.Equal(t, first.ProcessorOrderID, in.ProcessorOrderID)

	_, err = e.gw.CreateIntent(ctx, got)
	assert.True(t, errors.Is(err, payments.ErrOrderNotPayable))
	assert.Zero(t, e.sandbox.RefundCount())
}

func TestVerifyCallback_ForgedOnSupersededOrderKeepsRetryOpen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	o, first := e.open(t)
	retry := e.reopen(t, o)

	forged := e.sandbox.Pay(o.ID, first.ProcessorOrderID)
	forged.Signature = "deadbeef"
	_, err := e.gw.VerifyCallback(ctx, forged)
	assert.True(t, errors.Is(err, payments.ErrInvalidSignature))

	in, err := e.gw.Intent(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, payments.IntentCreated, in.Status)
	assert.Equal(t, retry.ProcessorOrderID, in.ProcessorOrderID)

	got, err := e.gw.VerifyCallback(ctx, e.sandbox.Pay(o.ID, retry.ProcessorOrderID))
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
}
