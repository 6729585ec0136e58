package cart

import "context"

// Store persists carts. Update applies fn to the current cart atomically
// with respect to other updates of the same customer; a missing cart is
// presented to fn as empty.
type Store interface {
	Get(ctx context.Context, customerID string) (Cart, error)
	Update(ctx context.Context, customerID string, fn func(c *Cart) error) (Cart, error)
	Delete(ctx context.Context, customerID string) error
}

// StockReader reports sellable stock for availability checks.
type StockReader interface {
	Available(ctx context.Context, productID string) (int, error)
}
