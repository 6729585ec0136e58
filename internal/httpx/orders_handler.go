package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req orders.CreateRequest) (orders.Created, error)
	Lookup(ctx context.Context, customerID, key string) (orders.Created, bool, error)
	Get(ctx context.Context, orderID string) (orders.Order, error)
	Cancel(ctx context.Context, orderID, reason string) (orders.Order, error)
	Advance(ctx context.Context, orderID string, target orders.Status) (orders.Order, error)
}

type PaymentService interface {
	CreateIntent(ctx context.Context, o orders.Order) (payments.Checkout, error)
	VerifyCallback(ctx context.Context, cb payments.Callback) (orders.Order, error)
	HandleFailure(ctx context.Context, orderID string, f payments.Failure) (payments.Intent, error)
}

// OrderCache is the read-through cache for GET /orders/{id}.
type OrderCache interface {
	Get(ctx context.Context, orderID string) (orders.Order, bool, error)
	Set(ctx context.Context, o orders.Order) error
}

type OrdersHandler struct {
	Orders   OrderService
	Payments PaymentService
	Carts    CartService
	Cache    OrderCache // optional
	Log      logrus.FieldLogger
}

type CreateOrderReq struct {
	CustomerID string `json:"customer_id"`
}

type OrderResp struct {
	Order   orders.Order       `json:"order"`
	Payment *payments.Checkout `json:"payment"`
}

type CallbackReq struct {
	ProcessorOrderID   string            `json:"processor_order_id"`
	ProcessorPaymentID string            `json:"processor_payment_id"`
	Signature          string            `json:"signature"`
	Error              *payments.Failure `json:"error,omitempty"`
}

type PaymentFailedResp struct {
	Order   orders.Order `json:"order"`
	Message string       `json:"message"`
}

type CancelReq struct {
	Reason string `json:"reason"`
}

type AdvanceReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/payment-callback", h.paymentCallback)
	r.Post("/orders/{id}/payment-intent", h.paymentIntent)
	r.Put("/orders/{id}/cancel", h.cancelOrder)
	r.Put("/orders/{id}/status", h.advanceOrder)
}

// createOrder checks out the customer's cart. The order is created even when
// the processor is down; payment is then null and the client retries
// POST /orders/{id}/payment-intent.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		writeError(w, h.Log, apperr.New(apperr.KindValidation, "customer_id is required"))
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	created, err := h.checkout(ctx, req.CustomerID, key)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	log := h.Log.WithField("order_id", created.Order.ID)

	if !created.Replayed {
		if err := h.Carts.Clear(ctx, req.CustomerID); err != nil {
			log.WithError(err).Warn("clear cart after checkout")
		}
	}

	resp := OrderResp{Order: created.Order}
	if created.Order.Status == orders.StatusPendingPayment {
		co, err := h.Payments.CreateIntent(ctx, created.Order)
		switch {
		case err == nil:
			resp.Payment = &co
		case errors.Is(err, payments.ErrAlreadyCaptured):
		default:
			log.WithError(err).Warn("payment intent not opened")
		}
	}

	code := http.StatusCreated
	if created.Replayed {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

// checkout replays a known idempotency key before touching the cart, which
// was cleared by the first request.
func (h *OrdersHandler) checkout(ctx context.Context, customerID, key string) (orders.Created, error) {
	if key != "" {
		prior, found, err := h.Orders.Lookup(ctx, customerID, key)
		if err != nil || found {
			return prior, err
		}
	}
	snap, err := h.Carts.ToCheckoutSnapshot(ctx, customerID)
	if err != nil {
		return orders.Created{}, err
	}
	return h.Orders.CreateOrder(ctx, orders.CreateRequest{
		CustomerID:     customerID,
		IdempotencyKey: key,
		Snapshot:       snap,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx := r.Context()

	if h.Cache != nil {
		o, ok, err := h.Cache.Get(ctx, orderID)
		if err != nil {
			h.Log.WithError(err).WithField("order_id", orderID).Warn("order cache read")
		}
		if ok {
			writeJSON(w, http.StatusOK, o)
			return
		}
	}

	o, err := h.Orders.Get(ctx, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, o); err != nil {
			h.Log.WithError(err).WithField("order_id", orderID).Warn("order cache write")
		}
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req CallbackReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx := r.Context()

	if req.Error != nil {
		if _, err := h.Payments.HandleFailure(ctx, orderID, *req.Error); err != nil {
			writeError(w, h.Log, err)
			return
		}
		o, err := h.Orders.Get(ctx, orderID)
		if err != nil {
			writeError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, PaymentFailedResp{Order: o, Message: "payment failed, please retry"})
		return
	}

	o, err := h.Payments.VerifyCallback(ctx, payments.Callback{
		OrderID:            orderID,
		ProcessorOrderID:   req.ProcessorOrderID,
		ProcessorPaymentID: req.ProcessorPaymentID,
		Signature:          req.Signature,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) paymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.Orders.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	co, err := h.Payments.CreateIntent(ctx, o)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelReq
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req AdvanceReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	o, err := h.Orders.Advance(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
