// Package catalog is the consumer-side view of the product catalog service.
package catalog

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

var ErrProductNotFound = apperr.New(apperr.KindNotFound, "product not found")

type Product struct {
	ID         string `json:"id"`
	SupplierID string `json:"supplier_id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	Active     bool   `json:"active"`
}

// Reader returns live product data. Implementations return ErrProductNotFound
// for unknown ids.
type Reader interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}
