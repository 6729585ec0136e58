package payments

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Sandbox is an in-process processor for local runs and tests. It issues
// deterministic-looking ids and can sign callbacks the way the real
// processor would.
type Sandbox struct {
	secret []byte

	mu      sync.Mutex
	orders  map[string]string // receipt -> processor order id
	refunds map[string]string // receipt -> refund id

	// FailCreate and FailRefund inject errors when set.
	FailCreate func() error
	FailRefund func() error
}

func NewSandbox(webhookSecret string) *Sandbox {
	return &Sandbox{
		secret:  []byte(webhookSecret),
		orders:  map[string]string{},
		refunds: map[string]string{},
	}
}

func (s *Sandbox) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (string, error) {
	if s.FailCreate != nil {
		if err := s.FailCreate(); err != nil {
			return "", err
		}
	}
	if amountMinor <= 0 || currency == "" {
		return "", errors.Wrap(ErrProcessorRejected, "amount and currency are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "order_" + uuid.NewString()[:14]
	s.orders[receipt] = id
	return id, nil
}

func (s *Sandbox) Refund(_ context.Context, processorPaymentID string, amountMinor int64, receipt string) (string, error) {
	if s.FailRefund != nil {
		if err := s.FailRefund(); err != nil {
			return "", err
		}
	}
	if processorPaymentID == "" || amountMinor <= 0 {
		return "", errors.Wrap(ErrProcessorRejected, "payment id and amount are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.refunds[receipt]; ok {
		return id, nil
	}
	id := "rfnd_" + uuid.NewString()[:14]
	s.refunds[receipt] = id
	return id, nil
}

// Pay simulates the customer completing payment and returns the callback the
// processor would deliver.
func (s *Sandbox) Pay(orderID, processorOrderID string) Callback {
	paymentID := "pay_" + uuid.NewString()[:14]
	return Callback{
		OrderID:            orderID,
		ProcessorOrderID:   processorOrderID,
		ProcessorPaymentID: paymentID,
		Signature:          Sign(s.secret, processorOrderID, paymentID),
	}
}

// RefundCount is the number of distinct refunds issued.
func (s *Sandbox) RefundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refunds)
}
