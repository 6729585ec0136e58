package postgres

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

// StockRepository implements inventory.Store. Every stock mutation is a
// single UPDATE guarded by the row version.
type StockRepository struct {
	db *DB
}

func NewStockRepository(db *DB) *StockRepository {
	return &StockRepository{db: db}
}

func (r *StockRepository) GetStock(ctx context.Context, productID string) (inventory.StockRecord, error) {
	var rec inventory.StockRecord
	err := r.db.queryRow(ctx, `
SELECT product_id, available, reserved, version, updated_at
FROM stock WHERE product_id = $1`, productID).
		Scan(&rec.ProductID, &rec.Available, &rec.Reserved, &rec.Version, &rec.UpdatedAt)
	if noRows(err) {
		return inventory.StockRecord{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.StockRecord{}, errors.Wrap(err, "get stock")
	}
	return rec, nil
}

func (r *StockRepository) ReserveIfVersion(ctx context.Context, expected int64, res inventory.Reservation) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		tag, err := r.db.exec(ctx, `
UPDATE stock
SET available = available - $3, reserved = reserved + $3, version = version + 1, updated_at = $4
WHERE product_id = $1 AND version = $2 AND available >= $3`,
			res.ProductID, expected, res.Quantity, res.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "reserve stock")
		}
		if tag.RowsAffected() != 1 {
			return inventory.ErrVersionConflict
		}
		_, err = r.db.exec(ctx, `
INSERT INTO reservations (id, product_id, quantity, correlation_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			res.ID, res.ProductID, res.Quantity, res.CorrelationID, res.Status, res.CreatedAt, res.UpdatedAt)
		return errors.Wrap(err, "insert reservation")
	})
}

func (r *StockRepository) AdjustIfVersion(ctx context.Context, productID string, expected int64, delta int) error {
	tag, err := r.db.exec(ctx, `
UPDATE stock
SET available = available + $3, version = version + 1, updated_at = NOW()
WHERE product_id = $1 AND version = $2 AND available + $3 >= 0`, productID, expected, delta)
	if err != nil {
		return errors.Wrap(err, "adjust stock")
	}
	if tag.RowsAffected() != 1 {
		return inventory.ErrVersionConflict
	}
	return nil
}

// Settle moves the reservation and applies its delta to the stock row in one
// transaction; the reservation row is locked first so two settles of the
// same token serialise.
func (r *StockRepository) Settle(ctx context.Context, id string, from, to inventory.ReservationStatus, at time.Time) (inventory.Reservation, bool, error) {
	var (
		res     inventory.Reservation
		applied bool
	)
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.getReservation(ctx, id, true)
		if err != nil {
			return err
		}
		if res.Status != from {
			return nil
		}
		dAvail, dReserved, ok := inventory.Delta(from, to, res.Quantity)
		if !ok {
			return nil
		}
		if _, err := r.db.exec(ctx, `
UPDATE stock
SET available = available + $2, reserved = reserved + $3, version = version + 1, updated_at = $4
WHERE product_id = $1`, res.ProductID, dAvail, dReserved, at); err != nil {
			return errors.Wrap(err, "settle stock")
		}
		if _, err := r.db.exec(ctx, `UPDATE reservations SET status = $2, updated_at = $3 WHERE id = $1`, id, to, at); err != nil {
			return errors.Wrap(err, "settle reservation")
		}
		res.Status = to
		res.UpdatedAt = at
		applied = true
		return nil
	})
	return res, applied, err
}

func (r *StockRepository) GetReservation(ctx context.Context, id string) (inventory.Reservation, error) {
	return r.getReservation(ctx, id, false)
}

func (r *StockRepository) getReservation(ctx context.Context, id string, forUpdate bool) (inventory.Reservation, error) {
	q := `SELECT id, product_id, quantity, correlation_id, status, created_at, updated_at FROM reservations WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	var res inventory.Reservation
	err := r.db.queryRow(ctx, q, id).
		Scan(&res.ID, &res.ProductID, &res.Quantity, &res.CorrelationID, &res.Status, &res.CreatedAt, &res.UpdatedAt)
	if noRows(err) {
		return inventory.Reservation{}, inventory.ErrReservationMissing
	}
	if err != nil {
		return inventory.Reservation{}, errors.Wrap(err, "get reservation")
	}
	return res, nil
}

func (r *StockRepository) ListReservations(ctx context.Context, correlationID string) ([]inventory.Reservation, error) {
	return r.listReservations(ctx, `
SELECT id, product_id, quantity, correlation_id, status, created_at, updated_at
FROM reservations WHERE correlation_id = $1
ORDER BY created_at, id`, correlationID)
}

func (r *StockRepository) ListStaleReserved(ctx context.Context, before time.Time, limit int) ([]inventory.Reservation, error) {
	return r.listReservations(ctx, `
SELECT id, product_id, quantity, correlation_id, status, created_at, updated_at
FROM reservations WHERE status = 'reserved' AND created_at < $1
ORDER BY created_at, id
LIMIT $2`, before, limit)
}

func (r *StockRepository) listReservations(ctx context.Context, q string, args ...any) ([]inventory.Reservation, error) {
	rows, err := r.db.query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list reservations")
	}
	defer rows.Close()

	var out []inventory.Reservation
	for rows.Next() {
		var res inventory.Reservation
		if err := rows.Scan(&res.ID, &res.ProductID, &res.Quantity, &res.CorrelationID, &res.Status, &res.CreatedAt, &res.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan reservation")
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// SetStock creates the stock row for a product or overwrites its available
// quantity. Used for seeding.
func (r *StockRepository) SetStock(ctx context.Context, productID string, available int) error {
	_, err := r.db.exec(ctx, `
INSERT INTO stock (product_id, available) VALUES ($1, $2)
ON CONFLICT (product_id) DO UPDATE SET available = EXCLUDED.available, version = stock.version + 1, updated_at = NOW()`,
		productID, available)
	return errors.Wrap(err, "set stock")
}
