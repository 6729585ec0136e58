package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// OrderRepository implements orders.Store. Status changes lock the row, apply
// the change in Go and write it back, so every backend stamps the same
// fields.
type OrderRepository struct {
	db *DB
}

func NewOrderRepository(db *DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, customer_id, COALESCE(idempotency_key, ''), status, payment_status, currency,
subtotal_minor, tax_minor, delivery_fee_minor, total_minor, cancel_reason, created_at, updated_at,
confirmed_at, processing_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.IdempotencyKey, &o.Status, &o.PaymentStatus, &o.Currency,
		&o.SubtotalMinor, &o.TaxMinor, &o.DeliveryFeeMinor, &o.TotalMinor, &o.CancelReason, &o.CreatedAt, &o.UpdatedAt,
		&o.ConfirmedAt, &o.ProcessingAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt)
	return o, err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *OrderRepository) Create(ctx context.Context, o orders.Order) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		_, err := r.db.exec(ctx, `
INSERT INTO orders (id, customer_id, idempotency_key, status, payment_status, currency,
	subtotal_minor, tax_minor, delivery_fee_minor, total_minor, cancel_reason, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			o.ID, o.CustomerID, nullable(o.IdempotencyKey), o.Status, o.PaymentStatus, o.Currency,
			o.SubtotalMinor, o.TaxMinor, o.DeliveryFeeMinor, o.TotalMinor, o.CancelReason, o.CreatedAt, o.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return orders.ErrDuplicateKey
			}
			return errors.Wrap(err, "insert order")
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`
INSERT INTO order_items (order_id, line_no, product_id, supplier_id, name, quantity, unit_price_minor)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, o.ID, i, it.ProductID, it.SupplierID, it.Name, it.Quantity, it.UnitPriceMinor)
		}
		br := txFromContext(ctx).SendBatch(ctx, batch)
		for range o.Items {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return errors.Wrap(err, "insert order item")
			}
		}
		return errors.Wrap(br.Close(), "insert order items")
	})
}

func (r *OrderRepository) Get(ctx context.Context, id string) (orders.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByIdempotencyKey(ctx context.Context, customerID, key string) (orders.Order, error) {
	return r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 AND idempotency_key = $2`, customerID, key)
}

func (r *OrderRepository) get(ctx context.Context, q string, args ...any) (orders.Order, error) {
	o, err := scanOrder(r.db.queryRow(ctx, q, args...))
	if noRows(err) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "get order")
	}
	if o.Items, err = r.items(ctx, o.ID); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func (r *OrderRepository) items(ctx context.Context, orderID string) ([]orders.Item, error) {
	rows, err := r.db.query(ctx, `
SELECT product_id, supplier_id, name, quantity, unit_price_minor
FROM order_items WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	var out []orders.Item
	for rows.Next() {
		var it orders.Item
		if err := rows.Scan(&it.ProductID, &it.SupplierID, &it.Name, &it.Quantity, &it.UnitPriceMinor); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *OrderRepository) Transition(ctx context.Context, id string, from orders.Status, c orders.Change) (orders.Order, bool, error) {
	return r.update(ctx, id, func(o *orders.Order) bool {
		if o.Status != from {
			return false
		}
		c.Apply(o)
		return true
	})
}

func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, to orders.PaymentStatus, from ...orders.PaymentStatus) (orders.Order, bool, error) {
	return r.update(ctx, id, func(o *orders.Order) bool {
		for _, f := range from {
			if o.PaymentStatus == f {
				o.PaymentStatus = to
				o.UpdatedAt = time.Now().UTC()
				return true
			}
		}
		return false
	})
}

func (r *OrderRepository) update(ctx context.Context, id string, fn func(o *orders.Order) bool) (orders.Order, bool, error) {
	var (
		o       orders.Order
		applied bool
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		o, err = r.get(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if !fn(&o) {
			return nil
		}
		_, err = r.db.exec(ctx, `
UPDATE orders
SET status = $2, payment_status = $3, cancel_reason = $4, updated_at = $5,
	confirmed_at = $6, processing_at = $7, shipped_at = $8, delivered_at = $9, cancelled_at = $10
WHERE id = $1`,
			o.ID, o.Status, o.PaymentStatus, o.CancelReason, o.UpdatedAt,
			o.ConfirmedAt, o.ProcessingAt, o.ShippedAt, o.DeliveredAt, o.CancelledAt)
		if err != nil {
			return errors.Wrap(err, "update order")
		}
		applied = true
		return nil
	})
	return o, applied, err
}

func (r *OrderRepository) ListExpired(ctx context.Context, before time.Time, limit int) ([]orders.Order, error) {
	rows, err := r.db.query(ctx, `
SELECT `+orderColumns+` FROM orders
WHERE status = 'pending_payment' AND created_at < $1
ORDER BY created_at
LIMIT $2`, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list expired orders")
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = r.items(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
