package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

type IntentRepository struct {
	db *DB
}

func NewIntentRepository(db *DB) *IntentRepository {
	return &IntentRepository{db: db}
}

const intentColumns = `id, order_id, processor_order_id, processor_payment_id, amount_minor, currency, status,
failure_code, failure_reason, attempts, created_at, updated_at, captured_at`

func scanIntent(row pgx.Row) (payments.Intent, error) {
	var in payments.Intent
	err := row.Scan(&in.ID, &in.OrderID, &in.ProcessorOrderID, &in.ProcessorPaymentID, &in.AmountMinor, &in.Currency, &in.Status,
		&in.FailureCode, &in.FailureReason, &in.Attempts, &in.CreatedAt, &in.UpdatedAt, &in.CapturedAt)
	return in, err
}

func (r *IntentRepository) Create(ctx context.Context, in payments.Intent) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.db.exec(ctx, `
INSERT INTO payment_intents (id, order_id, processor_order_id, processor_payment_id, amount_minor, currency, status,
	failure_code, failure_reason, attempts, created_at, updated_at, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			in.ID, in.OrderID, in.ProcessorOrderID, in.ProcessorPaymentID, in.AmountMinor, in.Currency, in.Status,
			in.FailureCode, in.FailureReason, in.Attempts, in.CreatedAt, in.UpdatedAt, in.CapturedAt)
		if isUniqueViolation(err) && constraintOf(err) == "payment_intents_order_id_key" {
			return payments.ErrIntentExists
		}
		if err != nil {
			return errors.Wrap(err, "insert payment intent")
		}
		return r.link(ctx, in.ID, in.ProcessorOrderID, in.CreatedAt)
	})
}

// link records a processor order issued for an intent. Earlier links are
// kept so late callbacks on them still find the intent.
func (r *IntentRepository) link(ctx context.Context, intentID, processorOrderID string, at time.Time) error {
	_, err := r.db.exec(ctx, `
INSERT INTO payment_intent_processor_orders (processor_order_id, intent_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (processor_order_id) DO NOTHING`, processorOrderID, intentID, at)
	return errors.Wrap(err, "link processor order")
}

func (r *IntentRepository) GetByOrder(ctx context.Context, orderID string) (payments.Intent, error) {
	return r.get(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE order_id = $1`, orderID)
}

func (r *IntentRepository) GetByProcessorOrder(ctx context.Context, processorOrderID string) (payments.Intent, error) {
	return r.get(ctx, `SELECT `+intentColumns+` FROM payment_intents
WHERE id = (SELECT intent_id FROM payment_intent_processor_orders WHERE processor_order_id = $1)`, processorOrderID)
}

func (r *IntentRepository) get(ctx context.Context, q string, args ...any) (payments.Intent, error) {
	in, err := scanIntent(r.db.queryRow(ctx, q, args...))
	if noRows(err) {
		return payments.Intent{}, payments.ErrIntentNotFound
	}
	if err != nil {
		return payments.Intent{}, errors.Wrap(err, "get payment intent")
	}
	return in, nil
}

func (r *IntentRepository) Update(ctx context.Context, id string, fn func(*payments.Intent), from ...payments.IntentStatus) (payments.Intent, bool, error) {
	var (
		in      payments.Intent
		applied bool
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		in, err = r.get(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		match := false
		for _, f := range from {
			if in.Status == f {
				match = true
				break
			}
		}
		if !match {
			return nil
		}
		prevPOID := in.ProcessorOrderID
		fn(&in)
		_, err = r.db.exec(ctx, `
UPDATE payment_intents
SET processor_order_id = $2, processor_payment_id = $3, amount_minor = $4, status = $5,
	failure_code = $6, failure_reason = $7, attempts = $8, updated_at = $9, captured_at = $10
WHERE id = $1`,
			in.ID, in.ProcessorOrderID, in.ProcessorPaymentID, in.AmountMinor, in.Status,
			in.FailureCode, in.FailureReason, in.Attempts, in.UpdatedAt, in.CapturedAt)
		if err != nil {
			return errors.Wrap(err, "update payment intent")
		}
		if in.ProcessorOrderID != prevPOID {
			if err := r.link(ctx, in.ID, in.ProcessorOrderID, in.UpdatedAt); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return in, applied, err
}
