// Package memstore holds in-memory implementations of every store interface.
// They back the unit tests and the STORE=memory development mode.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

type StockStore struct {
	mu           sync.Mutex
	stock        map[string]inventory.StockRecord
	reservations map[string]inventory.Reservation

	// FailReserve, when set, is consulted before every reservation and can
	// inject a store error for a product.
	FailReserve func(productID string) error
}

func NewStockStore() *StockStore {
	return &StockStore{
		stock:        map[string]inventory.StockRecord{},
		reservations: map[string]inventory.Reservation{},
	}
}

// SetStock seeds a product with available units.
func (s *StockStore) SetStock(productID string, available int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.stock[productID]
	rec.ProductID = productID
	rec.Available = available
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	s.stock[productID] = rec
}

func (s *StockStore) GetStock(_ context.Context, productID string) (inventory.StockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stock[productID]
	if !ok {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	return rec, nil
}

func (s *StockStore) ReserveIfVersion(_ context.Context, expected int64, res inventory.Reservation) error {
	if s.FailReserve != nil {
		if err := s.FailReserve(res.ProductID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stock[res.ProductID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if rec.Version != expected || rec.Available < res.Quantity {
		return inventory.ErrVersionConflict
	}
	rec.Available -= res.Quantity
	rec.Reserved += res.Quantity
	rec.Version++
	rec.UpdatedAt = res.CreatedAt
	s.stock[res.ProductID] = rec
	s.reservations[res.ID] = res
	return nil
}

func (s *StockStore) AdjustIfVersion(_ context.Context, productID string, expected int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.stock[productID]
	if !ok {
		return inventory.ErrProductNotFound
	}
	if rec.Version != expected || rec.Available+delta < 0 {
		return inventory.ErrVersionConflict
	}
	rec.Available += delta
	rec.Version++
	s.stock[productID] = rec
	return nil
}

func (s *StockStore) Settle(_ context.Context, id string, from, to inventory.ReservationStatus, at time.Time) (inventory.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, false, inventory.ErrReservationMissing
	}
	if res.Status != from {
		return res, false, nil
	}
	dAvail, dReserved, ok := inventory.Delta(from, to, res.Quantity)
	if !ok {
		return res, false, nil
	}
	rec := s.stock[res.ProductID]
	rec.Available += dAvail
	rec.Reserved += dReserved
	rec.Version++
	rec.UpdatedAt = at
	s.stock[res.ProductID] = rec

	res.Status = to
	res.UpdatedAt = at
	s.reservations[id] = res
	return res, true, nil
}

func (s *StockStore) GetReservation(_ context.Context, id string) (inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationMissing
	}
	return res, nil
}

func (s *StockStore) ListReservations(_ context.Context, correlationID string) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Reservation
	for _, r := range s.reservations {
		if r.CorrelationID == correlationID {
			out = append(out, r)
		}
	}
	sortReservations(out)
	return out, nil
}

func (s *StockStore) ListStaleReserved(_ context.Context, before time.Time, limit int) ([]inventory.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Reservation
	for _, r := range s.reservations {
		if r.Status == inventory.StatusReserved && r.CreatedAt.Before(before) {
			out = append(out, r)
		}
	}
	sortReservations(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortReservations(rs []inventory.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}
