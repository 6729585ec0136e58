package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

type IntentStore struct {
	mu      sync.Mutex
	intents map[string]payments.Intent
	byOrder map[string]string
	// every processor order ever issued for an intent, not only the current one
	byProcessorOrder map[string]string
}

func NewIntentStore() *IntentStore {
	return &IntentStore{
		intents:          map[string]payments.Intent{},
		byOrder:          map[string]string{},
		byProcessorOrder: map[string]string{},
	}
}

func (s *IntentStore) Create(_ context.Context, in payments.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byOrder[in.OrderID]; ok {
		return payments.ErrIntentExists
	}
	s.intents[in.ID] = in
	s.byOrder[in.OrderID] = in.ID
	s.byProcessorOrder[in.ProcessorOrderID] = in.ID
	return nil
}

func (s *IntentStore) GetByOrder(_ context.Context, orderID string) (payments.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byOrder[orderID]
	if !ok {
		return payments.Intent{}, payments.ErrIntentNotFound
	}
	return s.intents[id], nil
}

func (s *IntentStore) GetByProcessorOrder(_ context.Context, processorOrderID string) (payments.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byProcessorOrder[processorOrderID]
	if !ok {
		return payments.Intent{}, payments.ErrIntentNotFound
	}
	return s.intents[id], nil
}

func (s *IntentStore) Update(_ context.Context, id string, fn func(*payments.Intent), from ...payments.IntentStatus) (payments.Intent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return payments.Intent{}, false, payments.ErrIntentNotFound
	}
	for _, f := range from {
		if in.Status == f {
			fn(&in)
			s.intents[id] = in
			if _, known := s.byProcessorOrder[in.ProcessorOrderID]; !known {
				s.byProcessorOrder[in.ProcessorOrderID] = id
			}
			return in, true, nil
		}
	}
	return in, false, nil
}
