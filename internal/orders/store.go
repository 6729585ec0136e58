package orders

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "order not found")
	ErrDuplicateKey      = apperr.New(apperr.KindConflict, "order with this idempotency key already exists")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidTransition, "operation not allowed in the current order state")
	ErrCannotCancel      = apperr.New(apperr.KindInvalidTransition, "order cannot be cancelled at this stage")
	ErrNotCaptured       = apperr.New(apperr.KindInvalidTransition, "payment has not been captured")
	ErrInFlight          = apperr.New(apperr.KindConflict, "an identical order request is still being processed")
)

// Store persists orders. Transition and SetPaymentStatus are compare-and-swap
// operations: they report applied=false together with the stored order when
// the precondition does not hold.
type Store interface {
	// Create inserts a new order. ErrDuplicateKey when the customer already
	// has an order with the same idempotency key.
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	GetByIdempotencyKey(ctx context.Context, customerID, key string) (Order, error)
	Transition(ctx context.Context, id string, from Status, c Change) (o Order, applied bool, err error)
	SetPaymentStatus(ctx context.Context, id string, to PaymentStatus, from ...PaymentStatus) (o Order, applied bool, err error)
	// ListExpired returns pending_payment orders created before the cutoff,
	// oldest first.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

// StockLedger is the part of the inventory ledger order handling needs.
type StockLedger interface {
	Reserve(ctx context.Context, productID string, qty int, correlationID string) (inventory.Token, error)
	Release(ctx context.Context, tok inventory.Token) error
	CommitAll(ctx context.Context, correlationID string) error
	ReleaseAll(ctx context.Context, correlationID string) error
	Tokens(ctx context.Context, correlationID string) ([]inventory.Reservation, error)
}

// CaptureChecker reports whether the payment intent of an order is captured.
type CaptureChecker interface {
	IsCaptured(ctx context.Context, orderID string) (bool, error)
}

// Refunder returns captured money for an order. A refund the processor could
// not take yet is queued, which is not an error.
type Refunder interface {
	RefundOrder(ctx context.Context, orderID string) error
}

// StatusCache is the read cache in front of GET /orders/{id}.
type StatusCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// InFlightGuard short-circuits concurrent duplicates of one create request.
type InFlightGuard interface {
	Claim(ctx context.Context, customerID, key string) (bool, error)
	Release(ctx context.Context, customerID, key string) error
}
