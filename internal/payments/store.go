package payments

import (
	"context"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

var (
	ErrIntentNotFound     = apperr.New(apperr.KindNotFound, "payment intent not found")
	ErrIntentExists       = apperr.New(apperr.KindConflict, "payment intent already exists for order")
	ErrAlreadyCaptured    = apperr.New(apperr.KindConflict, "payment already captured")
	ErrInvalidSignature   = apperr.New(apperr.KindInvalidSignature, "callback signature mismatch")
	ErrOrderNotPayable    = apperr.New(apperr.KindInvalidTransition, "order is not awaiting payment")
	ErrCallbackOrderMatch = apperr.New(apperr.KindValidation, "callback does not belong to this order")
)

// Store persists intents, one per order.
type Store interface {
	Create(ctx context.Context, in Intent) error
	GetByOrder(ctx context.Context, orderID string) (Intent, error)
	GetByProcessorOrder(ctx context.Context, processorOrderID string) (Intent, error)
	// Update applies fn to the intent only while its status is one of from.
	// applied is false, with the stored intent, otherwise.
	Update(ctx context.Context, id string, fn func(*Intent), from ...IntentStatus) (in Intent, applied bool, err error)
}

// CaptureLookup answers whether an order's payment is captured.
type CaptureLookup struct {
	Store Store
}

func (c CaptureLookup) IsCaptured(ctx context.Context, orderID string) (bool, error) {
	in, err := c.Store.GetByOrder(ctx, orderID)
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return in.Status == IntentCaptured, nil
}
