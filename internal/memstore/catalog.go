package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
)

type Catalog struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
}

func NewCatalog(products ...catalog.Product) *Catalog {
	c := &Catalog{products: map[string]catalog.Product{}}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Put(p catalog.Product) {
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
}

func (c *Catalog) SetPrice(productID string, priceMinor int64) {
	c.mu.Lock()
	p := c.products[productID]
	p.PriceMinor = priceMinor
	c.products[productID] = p
	c.mu.Unlock()
}

func (c *Catalog) GetProduct(_ context.Context, productID string) (catalog.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return p, nil
}
