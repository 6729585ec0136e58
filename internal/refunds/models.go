package refunds

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusSucceeded Status = "succeeded"
)

// Refund is money owed back for one order. It stays queued until the
// processor confirms it; it is never marked failed.
type Refund struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	IntentID           string     `json:"intent_id"`
	ProcessorPaymentID string     `json:"processor_payment_id"`
	ProcessorRefundID  string     `json:"processor_refund_id,omitempty"`
	AmountMinor        int64      `json:"amount_minor"`
	Currency           string     `json:"currency"`
	Status             Status     `json:"status"`
	Attempts           int        `json:"attempts"`
	LastError          string     `json:"last_error,omitempty"`
	NextAttemptAt      time.Time  `json:"next_attempt_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	SucceededAt        *time.Time `json:"succeeded_at,omitempty"`
}

var (
	ErrNotFound     = apperr.New(apperr.KindNotFound, "refund not found")
	ErrRefundExists = apperr.New(apperr.KindConflict, "refund already exists for order")
	ErrNotCaptured  = apperr.New(apperr.KindInvalidTransition, "only captured payments can be refunded")
)

type Store interface {
	// Create inserts a refund; ErrRefundExists when the order already has one.
	Create(ctx context.Context, r Refund) error
	Get(ctx context.Context, id string) (Refund, error)
	GetByOrder(ctx context.Context, orderID string) (Refund, error)
	// Claim takes a queued refund that is due at now: it bumps Attempts and
	// pushes NextAttemptAt to until so no other worker picks it up meanwhile.
	Claim(ctx context.Context, id string, now, until time.Time) (r Refund, claimed bool, err error)
	Complete(ctx context.Context, id, processorRefundID string, at time.Time) (Refund, error)
	Reschedule(ctx context.Context, id, lastError string, next, at time.Time) (Refund, error)
	// ListDue returns queued refunds with NextAttemptAt at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Refund, error)
}
