package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

type StockService interface {
	Stock(ctx context.Context, productID string) (inventory.StockRecord, error)
	Restock(ctx context.Context, productID string, delta int) (inventory.StockRecord, error)
}

// StockHandler lets suppliers read and adjust sellable stock.
type StockHandler struct {
	Stock StockService
	Log   logrus.FieldLogger
}

type RestockReq struct {
	Delta int `json:"delta"`
}

type stockResp struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Version   int64  `json:"version"`
}

var errZeroDelta = apperr.New(apperr.KindValidation, "delta must not be zero")

func (h *StockHandler) Register(r chi.Router) {
	r.Route("/products/{productID}/stock", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/", h.restock)
	})
}

func (h *StockHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Stock.Stock(r.Context(), chi.URLParam(r, "productID"))
	h.respond(w, rec, err)
}

// restock adds units, or writes them off with a negative delta. Reserved
// units are never written off.
func (h *StockHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if err := decode(r, &req); err != nil {
		writeError(w, h.Log, err)
		return
	}
	if req.Delta == 0 {
		writeError(w, h.Log, errZeroDelta)
		return
	}
	rec, err := h.Stock.Restock(r.Context(), chi.URLParam(r, "productID"), req.Delta)
	h.respond(w, rec, err)
}

func (h *StockHandler) respond(w http.ResponseWriter, rec inventory.StockRecord, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResp{
		ProductID: rec.ProductID,
		Available: rec.Available,
		Reserved:  rec.Reserved,
		Version:   rec.Version,
	})
}
