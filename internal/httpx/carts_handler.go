package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
)

type CartService interface {
	Get(ctx context.Context, customerID string) (cart.Cart, error)
	AddItem(ctx context.Context, customerID, productID string, qty int) (cart.Cart, error)
	UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (cart.Cart, error)
	RemoveItem(ctx context.Context, customerID, productID string) (cart.Cart, error)
	Clear(ctx context.Context, customerID string) error
	ToCheckoutSnapshot(ctx context.Context, customerID string) (cart.Snapshot, error)
}

type CartsHandler struct {
	Carts CartService
	Log   logrus.FieldLogger
}

type AddItemReq struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateItemReq struct {
	Quantity int `json:"quantity"`
}

func (h *CartsHandler) Register(r chi.Router) {
	r.Route("/carts/{customerID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.addItem)
		r.Put("/items/{productID}", h.updateItem)
		r.Delete("/items/{productID}", h.removeItem)
		r.Post("/checkout-preview", h.checkoutPreview)
	})
}

func (h *CartsHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.Get(r.Context(), chi.URLParam(r, "customerID"))
	h.respond(w, c, err)
}

func (h *CartsHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	c, err := h.Carts.AddItem(r.Context(), chi.URLParam(r, "customerID"), req.ProductID, req.Quantity)
	h.respond(w, c, err)
}

func (h *CartsHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req UpdateItemReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	c, err := h.Carts.UpdateQuantity(r.Context(), chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"), req.Quantity)
	h.respond(w, c, err)
}

func (h *CartsHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.RemoveItem(r.Context(), chi.URLParam(r, "customerID"), chi.URLParam(r, "productID"))
	h.respond(w, c, err)
}

func (h *CartsHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), chi.URLParam(r, "customerID")); err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// checkoutPreview validates the cart the way checkout would, without
// reserving anything.
func (h *CartsHandler) checkoutPreview(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Carts.ToCheckoutSnapshot(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *CartsHandler) respond(w http.ResponseWriter, c cart.Cart, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
