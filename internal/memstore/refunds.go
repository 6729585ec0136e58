package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/refunds"
)

type RefundStore struct {
	mu      sync.Mutex
	refunds map[string]refunds.Refund
	byOrder map[string]string
}

func NewRefundStore() *RefundStore {
	return &RefundStore{refunds: map[string]refunds.Refund{}, byOrder: map[string]string{}}
}

func (s *RefundStore) Create(_ context.Context, r refunds.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[r.OrderID]; ok {
		return refunds.ErrRefundExists
	}
	s.refunds[r.ID] = r
	s.byOrder[r.OrderID] = r.ID
	return nil
}

func (s *RefundStore) Get(_ context.Context, id string) (refunds.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return refunds.Refund{}, refunds.ErrNotFound
	}
	return r, nil
}

func (s *RefundStore) GetByOrder(_ context.Context, orderID string) (refunds.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return refunds.Refund{}, refunds.ErrNotFound
	}
	return s.refunds[id], nil
}

func (s *RefundStore) Claim(_ context.Context, id string, now, until time.Time) (refunds.Refund, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return refunds.Refund{}, false, refunds.ErrNotFound
	}
	if r.Status != refunds.StatusQueued || r.NextAttemptAt.After(now) {
		return r, false, nil
	}
	r.Attempts++
	r.NextAttemptAt = until
	r.UpdatedAt = now
	s.refunds[id] = r
	return r, true, nil
}

func (s *RefundStore) Complete(_ context.Context, id, processorRefundID string, at time.Time) (refunds.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return refunds.Refund{}, refunds.ErrNotFound
	}
	r.Status = refunds.StatusSucceeded
	r.ProcessorRefundID = processorRefundID
	r.LastError = ""
	r.SucceededAt = &at
	r.UpdatedAt = at
	s.refunds[id] = r
	return r, nil
}

func (s *RefundStore) Reschedule(_ context.Context, id, lastError string, next, at time.Time) (refunds.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[id]
	if !ok {
		return refunds.Refund{}, refunds.ErrNotFound
	}
	r.LastError = lastError
	r.NextAttemptAt = next
	r.UpdatedAt = at
	s.refunds[id] = r
	return r, nil
}

func (s *RefundStore) ListDue(_ context.Context, now time.Time, limit int) ([]refunds.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []refunds.Refund
	for _, r := range s.refunds {
		if r.Status == refunds.StatusQueued && !r.NextAttemptAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
