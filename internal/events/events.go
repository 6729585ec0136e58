// Package events defines the notification envelope published for order,
// payment and refund changes. Delivery is fire-and-forget.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	TypeOrderCreated    = "order.created"
	TypeOrderConfirmed  = "order.confirmed"
	TypeOrderCancelled  = "order.cancelled"
	TypePaymentFailed   = "payment.failed"
	TypeRefundSucceeded = "refund.succeeded"
	TypeRefundQueued    = "refund.queued"
)

const envelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// New builds an envelope for payload. The event type doubles as the topic.
func New(eventType, producer, correlationID string, at time.Time, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Topic is the topic an envelope is written to.
func Topic(env Envelope) string { return env.EventType }

// PartitionKey keeps every event of one order on one partition, in order.
func PartitionKey(env Envelope) []byte { return []byte(env.CorrelationID) }

// Decode unmarshals the envelope payload into T.
func Decode[T any](env Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		return t, errors.Wrapf(err, "decode %s payload", env.EventType)
	}
	return t, nil
}

// Publisher hands envelopes to the notification transport. Implementations
// must not block on delivery.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderCreated struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Items      []OrderItem `json:"items"`
	TotalMinor int64       `json:"total_minor"`
	Currency   string      `json:"currency"`
}

type OrderConfirmed struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	TotalMinor int64  `json:"total_minor"`
}

type OrderCancelled struct {
	OrderID       string `json:"order_id"`
	CustomerID    string `json:"customer_id"`
	Reason        string `json:"reason"`
	PaymentStatus string `json:"payment_status"`
}

type PaymentFailed struct {
	OrderID  string `json:"order_id"`
	IntentID string `json:"intent_id,omitempty"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason"`
}

type RefundSucceeded struct {
	RefundID          string `json:"refund_id"`
	OrderID           string `json:"order_id"`
	ProcessorRefundID string `json:"processor_refund_id"`
	AmountMinor       int64  `json:"amount_minor"`
}

type RefundQueued struct {
	RefundID      string    `json:"refund_id"`
	OrderID       string    `json:"order_id"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error,omitempty"`
}
