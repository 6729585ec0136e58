package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type OrderStore struct {
	mu     sync.Mutex
	orders map[string]orders.Order
	byKey  map[string]string
}

func NewOrderStore() *OrderStore {
	return &OrderStore{orders: map[string]orders.Order{}, byKey: map[string]string{}}
}

func idemKey(customerID, key string) string { return customerID + "\x00" + key }

func (s *OrderStore) Create(_ context.Context, o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.IdempotencyKey != "" {
		k := idemKey(o.CustomerID, o.IdempotencyKey)
		if _, ok := s.byKey[k]; ok {
			return orders.ErrDuplicateKey
		}
		s.byKey[k] = o.ID
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) GetByIdempotencyKey(_ context.Context, customerID, key string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[idemKey(customerID, key)]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *OrderStore) Transition(_ context.Context, id string, from orders.Status, c orders.Change) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, false, orders.ErrNotFound
	}
	if o.Status != from {
		return cloneOrder(o), false, nil
	}
	c.Apply(&o)
	s.orders[id] = o
	return cloneOrder(o), true, nil
}

func (s *OrderStore) SetPaymentStatus(_ context.Context, id string, to orders.PaymentStatus, from ...orders.PaymentStatus) (orders.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, false, orders.ErrNotFound
	}
	for _, f := range from {
		if o.PaymentStatus == f {
			o.PaymentStatus = to
			o.UpdatedAt = time.Now().UTC()
			s.orders[id] = o
			return cloneOrder(o), true, nil
		}
	}
	return cloneOrder(o), false, nil
}

func (s *OrderStore) ListExpired(_ context.Context, before time.Time, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status == orders.StatusPendingPayment && o.CreatedAt.Before(before) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count is the number of persisted orders.
func (s *OrderStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	return o
}
