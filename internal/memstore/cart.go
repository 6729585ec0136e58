package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
)

type CartStore struct {
	mu    sync.Mutex
	carts map[string]cart.Cart
}

func NewCartStore() *CartStore {
	return &CartStore{carts: map[string]cart.Cart{}}
}

func (s *CartStore) Get(_ context.Context, customerID string) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCart(s.load(customerID)), nil
}

func (s *CartStore) Update(_ context.Context, customerID string, fn func(c *cart.Cart) error) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := cloneCart(s.load(customerID))
	if err := fn(&c); err != nil {
		return cart.Cart{}, err
	}
	s.carts[customerID] = c
	return cloneCart(c), nil
}

func (s *CartStore) Delete(_ context.Context, customerID string) error {
	s.mu.Lock()
	delete(s.carts, customerID)
	s.mu.Unlock()
	return nil
}

func (s *CartStore) load(customerID string) cart.Cart {
	c, ok := s.carts[customerID]
	if !ok {
		return cart.Cart{CustomerID: customerID}
	}
	return c
}

func cloneCart(c cart.Cart) cart.Cart {
	c.Lines = append([]cart.Line(nil), c.Lines...)
	return c
}
