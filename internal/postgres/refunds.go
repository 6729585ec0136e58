package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/refunds"
)

type RefundRepository struct {
	db *DB
}

func NewRefundRepository(db *DB) *RefundRepository {
	return &RefundRepository{db: db}
}

const refundColumns = `id, order_id, intent_id, processor_payment_id, processor_refund_id, amount_minor, currency,
status, attempts, last_error, next_attempt_at, created_at, updated_at, succeeded_at`

func scanRefund(row pgx.Row) (refunds.Refund, error) {
	var rf refunds.Refund
	err := row.Scan(&rf.ID, &rf.OrderID, &rf.IntentID, &rf.ProcessorPaymentID, &rf.ProcessorRefundID, &rf.AmountMinor, &rf.Currency,
		&rf.Status, &rf.Attempts, &rf.LastError, &rf.NextAttemptAt, &rf.CreatedAt, &rf.UpdatedAt, &rf.SucceededAt)
	return rf, err
}

func (r *RefundRepository) Create(ctx context.Context, rf refunds.Refund) error {
	_, err := r.db.exec(ctx, `
INSERT INTO refunds (id, order_id, intent_id, processor_payment_id, processor_refund_id, amount_minor, currency,
	status, attempts, last_error, next_attempt_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rf.ID, rf.OrderID, rf.IntentID, rf.ProcessorPaymentID, rf.ProcessorRefundID, rf.AmountMinor, rf.Currency,
		rf.Status, rf.Attempts, rf.LastError, rf.NextAttemptAt, rf.CreatedAt, rf.UpdatedAt)
	if isUniqueViolation(err) && constraintOf(err) == "refunds_order_id_key" {
		return refunds.ErrRefundExists
	}
	return errors.Wrap(err, "insert refund")
}

func (r *RefundRepository) Get(ctx context.Context, id string) (refunds.Refund, error) {
	return r.one(ctx, `SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id)
}

func (r *RefundRepository) GetByOrder(ctx context.Context, orderID string) (refunds.Refund, error) {
	return r.one(ctx, `SELECT `+refundColumns+` FROM refunds WHERE order_id = $1`, orderID)
}

// Claim is a single conditional UPDATE: only one worker can move a due refund
// forward.
func (r *RefundRepository) Claim(ctx context.Context, id string, now, until time.Time) (refunds.Refund, bool, error) {
	rf, err := r.one(ctx, `
UPDATE refunds
SET attempts = attempts + 1, next_attempt_at = $3, updated_at = $2
WHERE id = $1 AND status = 'queued' AND next_attempt_at <= $2
RETURNING `+refundColumns, id, now, until)
	if errors.Is(err, refunds.ErrNotFound) {
		current, err := r.Get(ctx, id)
		return current, false, err
	}
	if err != nil {
		return refunds.Refund{}, false, err
	}
	return rf, true, nil
}

func (r *RefundRepository) Complete(ctx context.Context, id, processorRefundID string, at time.Time) (refunds.Refund, error) {
	return r.one(ctx, `
UPDATE refunds
SET status = 'succeeded', processor_refund_id = $2, last_error = '', succeeded_at = $3, updated_at = $3
WHERE id = $1
RETURNING `+refundColumns, id, processorRefundID, at)
}

func (r *RefundRepository) Reschedule(ctx context.Context, id, lastError string, next, at time.Time) (refunds.Refund, error) {
	return r.one(ctx, `
UPDATE refunds
SET last_error = $2, next_attempt_at = $3, updated_at = $4
WHERE id = $1
RETURNING `+refundColumns, id, lastError, next, at)
}

// ListDue skips rows another transaction is claiming.
func (r *RefundRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]refunds.Refund, error) {
	rows, err := r.db.query(ctx, `
SELECT `+refundColumns+` FROM refunds
WHERE status = 'queued' AND next_attempt_at <= $1
ORDER BY next_attempt_at
LIMIT $2
FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list due refunds")
	}
	defer rows.Close()

	var out []refunds.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan refund")
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

func (r *RefundRepository) one(ctx context.Context, q string, args ...any) (refunds.Refund, error) {
	rf, err := scanRefund(r.db.queryRow(ctx, q, args...))
	if noRows(err) {
		return refunds.Refund{}, refunds.ErrNotFound
	}
	if err != nil {
		return refunds.Refund{}, errors.Wrap(err, "refund query")
	}
	return rf, nil
}
