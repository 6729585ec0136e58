package httpx_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/ariefcatur/go-marketplace-orders/internal/memstore"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

const webhookSecret = "whsec_test"

type server struct {
	h       http.Handler
	app     *app.App
	sandbox *payments.Sandbox
	events  *memstore.Events
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := config.Config{
		ServiceName:        "order-api",
		Store:              "memory",
		Currency:           "INR",
		TaxRate:            decimal.RequireFromString("0.18"),
		DeliveryFeeMinor:   4900,
		ReserveMaxAttempts: 5,
		PaymentExpiry:      15 * time.Minute,
		SweepInterval:      time.Second,
		RefundRetryBase:    30 * time.Second,
		RefundRetryMax:     30 * time.Minute,
		Processor:          config.Processor{Mode: "sandbox", WebhookSecret: webhookSecret, KeyID: "key_test"},
	}
	log := logx.Discard()

	b := app.Memory(cfg, log)
	sandbox := payments.NewSandbox(webhookSecret)
	evs := &memstore.Events{}
	b.Processor = sandbox
	b.Events = evs

	ctx := context.Background()
	require.NoError(t, b.Seeder.UpsertProduct(ctx, catalog.Product{ID: "p1", SupplierID: "s1", Name: "Kettle", PriceMinor: 25000, Active: true}))
	require.NoError(t, b.Seeder.SetStock(ctx, "p1", 2))

	a := app.New(cfg, b, clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)), log)
	t.Cleanup(a.Close)
	return &server{h: a.Router(), app: a, sandbox: sandbox, events: evs}
}

func (s *server) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *server) addToCart(t *testing.T, customerID string, qty int) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/carts/"+customerID+"/items", map[string]any{"product_id": "p1", "quantity": qty})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

type orderResp struct {
	Order   orders.Order       `json:"order"`
	Payment *payments.Checkout `json:"payment"`
}

type errResp struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Issues  []struct {
		ProductID string `json:"product_id"`
		Kind      string `json:"kind"`
		Available *int   `json:"available"`
	} `json:"issues"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *server) checkout(t *testing.T, customerID, key string) orderResp {
	t.Helper()
	s.addToCart(t, customerID, 1)
	rec := s.do(t, http.MethodPost, "/orders", map[string]string{"customer_id": customerID}, "Idempotency-Key", key)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[orderResp](t, rec)
}

func TestHealthz(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateOrder_ReturnsOrderAndCheckout(t *testing.T) {
	s := newServer(t)
	got := s.checkout(t, "c1", "k1")

	assert.Equal(t, orders.StatusPendingPayment, got.Order.Status)
	assert.Equal(t, int64(25000+4500+4900), got.Order.TotalMinor)
	require.NotNil(t, got.Payment)
	assert.Equal(t, got.Order.TotalMinor, got.Payment.AmountMinor)
	assert.Equal(t, "key_test", got.Payment.KeyID)

	cartRec := s.do(t, http.MethodGet, "/carts/c1", nil)
	require.Equal(t, http.StatusOK, cartRec.Code)
	assert.Empty(t, decodeBody[struct {
		Lines []any `json:"lines"`
	}](t, cartRec).Lines, "cart is cleared after checkout")
}

func TestCreateOrder_ReplayReturnsSameOrder(t *testing.T) {
	s := newServer(t)
	first := s.checkout(t, "c1", "k1")

	rec := s.do(t, http.MethodPost, "/orders", map[string]string{"customer_id": "c1"}, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decodeBody[orderResp](t, rec)

	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, 1, s.events.Count("order.created"))
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	s := newServer(t)
	s.addToCart(t, "c1", 3)

	rec := s.do(t, http.MethodPost, "/orders", map[string]string{"customer_id": "c1"})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	got := decodeBody[errResp](t, rec)
	assert.Equal(t, "insufficient_stock", got.Kind)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, "p1", got.Issues[0].ProductID)
	require.NotNil(t, got.Issues[0].Available)
	assert.Equal(t, 2, *got.Issues[0].Available)
}

func TestCreateOrder_RequiresCustomer(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodPost, "/orders", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeBody[errResp](t, rec).Kind)
}

func TestPaymentCallback_ConfirmsOrder(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")

	cb := s.sandbox.Pay(created.Order.ID, created.Payment.ProcessorOrderID)
	rec := s.do(t, http.MethodPost, "/orders/"+created.Order.ID+"/payment-callback", map[string]string{
		"processor_order_id":   cb.ProcessorOrderID,
		"processor_payment_id": cb.ProcessorPaymentID,
		"signature":            cb.Signature,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[orders.Order](t, rec)
	assert.Equal(t, orders.StatusConfirmed, got.Status)
	assert.Equal(t, orders.PaymentCaptured, got.PaymentStatus)

	rec = s.do(t, http.MethodGet, "/orders/"+created.Order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, orders.StatusConfirmed, decodeBody[orders.Order](t, rec).Status)
}

func TestPaymentCallback_BadSignature(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")

	rec := s.do(t, http.MethodPost, "/orders/"+created.Order.ID+"/payment-callback", map[string]string{
		"processor_order_id":   created.Payment.ProcessorOrderID,
		"processor_payment_id": "pay_forged",
		"signature":            "deadbeef",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	got := decodeBody[errResp](t, rec)
	assert.Equal(t, "invalid_signature", got.Kind)
	assert.Equal(t, "payment verification failed", got.Message)

	rec = s.do(t, http.MethodGet, "/orders/"+created.Order.ID, nil)
	assert.Equal(t, orders.StatusPendingPayment, decodeBody[orders.Order](t, rec).Status)
}

func TestPaymentCallback_FailureKeepsOrderPayable(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")

	rec := s.do(t, http.MethodPost, "/orders/"+created.Order.ID+"/payment-callback", map[string]any{
		"error": map[string]string{"code": "BAD_REQUEST_ERROR", "description": "card declined"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[struct {
		Order   orders.Order `json:"order"`
		Message string       `json:"message"`
	}](t, rec)
	assert.Equal(t, orders.StatusPendingPayment, got.Order.Status)
	assert.Equal(t, orders.PaymentFailed, got.Order.PaymentStatus)
	assert.Equal(t, "payment failed, please retry", got.Message)

	rec = s.do(t, http.MethodPost, "/orders/"+created.Order.ID+"/payment-intent", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	co := decodeBody[payments.Checkout](t, rec)
	assert.Equal(t, created.Order.TotalMinor, co.AmountMinor)
}

func TestCancel_ReleasesStock(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")

	rec := s.do(t, http.MethodPut, "/orders/"+created.Order.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[orders.Order](t, rec)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Equal(t, orders.ReasonCustomer, got.CancelReason)

	available, err := s.app.Ledger.Available(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, available)
}

func TestCancel_AfterShippedIsRejected(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")
	id := created.Order.ID

	cb := s.sandbox.Pay(id, created.Payment.ProcessorOrderID)
	_, err := s.app.Payments.VerifyCallback(context.Background(), cb)
	require.NoError(t, err)

	for _, st := range []orders.Status{orders.StatusProcessing, orders.StatusShipped} {
		rec := s.do(t, http.MethodPut, "/orders/"+id+"/status", map[string]orders.Status{"status": st})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodPut, "/orders/"+id+"/cancel", map[string]string{"reason": "changed my mind"})
	require.Equal(t, http.StatusConflict, rec.Code)
	got := decodeBody[errResp](t, rec)
	assert.Equal(t, "invalid_transition", got.Kind)
	assert.Equal(t, "order cannot be cancelled at this stage", got.Message)
}

func TestAdvance_SkippingIsRejected(t *testing.T) {
	s := newServer(t)
	created := s.checkout(t, "c1", "k1")

	rec := s.do(t, http.MethodPut, "/orders/"+created.Order.ID+"/status", map[string]orders.Status{"status": orders.StatusShipped})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	s := newServer(t)
	rec := s.do(t, http.MethodGet, "/orders/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[errResp](t, rec).Kind)
}

func TestCartEndpoints(t *testing.T) {
	s := newServer(t)
	s.addToCart(t, "c1", 1)

	rec := s.do(t, http.MethodPut, "/carts/c1/items/p1", map[string]int{"quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/carts/c1/checkout-preview", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	snap := decodeBody[struct {
		Lines []struct {
			ProductID      string `json:"product_id"`
			Quantity       int    `json:"quantity"`
			UnitPriceMinor int64  `json:"unit_price_minor"`
		} `json:"lines"`
	}](t, rec)
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.Equal(t, int64(25000), snap.Lines[0].UnitPriceMinor)

	rec = s.do(t, http.MethodPost, "/carts/c1/items", map[string]any{"product_id": "p1", "quantity": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodDelete, "/carts/c1/items/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/carts/c1/items/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodDelete, "/carts/c1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStockEndpoints(t *testing.T) {
	s := newServer(t)
	type stock struct {
		ProductID string `json:"product_id"`
		Available int    `json:"available"`
		Reserved  int    `json:"reserved"`
	}

	s.checkout(t, "c1", "k1")
	rec := s.do(t, http.MethodGet, "/products/p1/stock", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[stock](t, rec)
	assert.Equal(t, stock{ProductID: "p1", Available: 1, Reserved: 1}, got)

	rec = s.do(t, http.MethodPost, "/products/p1/stock", map[string]int{"delta": 4})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 5, decodeBody[stock](t, rec).Available)

	rec = s.do(t, http.MethodPost, "/products/p1/stock", map[string]int{"delta": -6})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[errResp](t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/products/p1/stock", map[string]int{"delta": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/products/missing/stock", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
