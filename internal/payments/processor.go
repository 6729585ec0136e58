package payments

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

var (
	// ErrProcessorUnavailable marks transient processor failures: network
	// errors, timeouts, 5xx and rate limiting. Only these are retried.
	ErrProcessorUnavailable = apperr.New(apperr.KindProcessorUnavailable, "payment processor unavailable")
	ErrProcessorRejected    = apperr.New(apperr.KindInternal, "payment processor rejected the request")
)

// Processor is the external payment processor.
type Processor interface {
	// CreateOrder opens a processor-side order and returns its id. receipt is
	// our reference and doubles as the processor's idempotency key.
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (processorOrderID string, err error)
	// Refund returns amountMinor of a captured payment.
	Refund(ctx context.Context, processorPaymentID string, amountMinor int64, receipt string) (refundID string, err error)
}
