package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
)

const defaultMaxAttempts = 5

// Ledger owns available/reserved quantities. Concurrency control is
// optimistic: read the record, then compare-and-swap on its version.
type Ledger struct {
	store       Store
	clock       clock.Clock
	log         logrus.FieldLogger
	maxAttempts int
}

type Option func(*Ledger)

// WithMaxAttempts bounds how many CAS attempts Reserve and Restock make.
func WithMaxAttempts(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func NewLedger(store Store, clk clock.Clock, log logrus.FieldLogger, opts ...Option) *Ledger {
	l := &Ledger{store: store, clock: clk, log: log, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve holds qty units of productID for correlationID. It fails fast with
// ErrInsufficientStock and gives up with ErrContention once the attempt
// budget is spent.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int, correlationID string) (Token, error) {
	if qty <= 0 {
		return Token{}, ErrInvalidQuantity
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		rec, err := l.store.GetStock(ctx, productID)
		if err != nil {
			return Token{}, errors.Wrapf(err, "load stock %s", productID)
		}
		if rec.Available < qty {
			return Token{}, &ShortageError{ProductID: productID, Requested: qty, Available: rec.Available}
		}

		now := l.clock.Now()
		res := Reservation{
			ID:            uuid.NewString(),
			ProductID:     productID,
			Quantity:      qty,
			CorrelationID: correlationID,
			Status:        StatusReserved,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		err = l.store.ReserveIfVersion(ctx, rec.Version, res)
		if err == nil {
			return res.Token(), nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Token{}, errors.Wrapf(err, "reserve %s", productID)
		}
		if err := ctx.Err(); err != nil {
			return Token{}, err
		}
		l.log.WithFields(logrus.Fields{"product_id": productID, "attempt": attempt}).Debug("stock version conflict, retrying")
	}
	return Token{}, errors.WithStack(ErrContention)
}

// Commit converts a reservation into a permanent decrement. Committing an
// already committed token is a no-op.
func (l *Ledger) Commit(ctx context.Context, tok Token) error {
	return l.settle(ctx, tok.ReservationID, StatusReserved, StatusCommitted)
}

// Release returns reserved units to the pool. Releasing twice is a no-op.
func (l *Ledger) Release(ctx context.Context, tok Token) error {
	return l.settle(ctx, tok.ReservationID, StatusReserved, StatusReleased)
}

// Reverse returns committed units to the pool, for orders cancelled after
// confirmation. Reversing twice is a no-op.
func (l *Ledger) Reverse(ctx context.Context, tok Token) error {
	return l.settle(ctx, tok.ReservationID, StatusCommitted, StatusReversed)
}

func (l *Ledger) settle(ctx context.Context, id string, from, to ReservationStatus) error {
	res, applied, err := l.store.Settle(ctx, id, from, to, l.clock.Now())
	if err != nil {
		return errors.Wrapf(err, "settle reservation %s to %s", id, to)
	}
	if applied || res.Status == to {
		return nil
	}
	return errors.Wrapf(ErrReservationSettled, "reservation %s is %s", id, res.Status)
}

// CommitAll commits every open reservation of correlationID.
func (l *Ledger) CommitAll(ctx context.Context, correlationID string) error {
	rs, err := l.store.ListReservations(ctx, correlationID)
	if err != nil {
		return errors.Wrapf(err, "list reservations %s", correlationID)
	}
	for _, r := range rs {
		if r.Status != StatusReserved && r.Status != StatusCommitted {
			return errors.Wrapf(ErrReservationSettled, "reservation %s is %s", r.ID, r.Status)
		}
	}
	for _, r := range rs {
		if err := l.Commit(ctx, r.Token()); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseAll returns every unit held for correlationID to the pool: open
// reservations are released and committed ones reversed.
func (l *Ledger) ReleaseAll(ctx context.Context, correlationID string) error {
	rs, err := l.store.ListReservations(ctx, correlationID)
	if err != nil {
		return errors.Wrapf(err, "list reservations %s", correlationID)
	}
	for _, r := range rs {
		switch r.Status {
		case StatusReserved:
			err = l.Release(ctx, r.Token())
		case StatusCommitted:
			err = l.Reverse(ctx, r.Token())
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Tokens lists the reservation tokens recorded for correlationID.
func (l *Ledger) Tokens(ctx context.Context, correlationID string) ([]Reservation, error) {
	rs, err := l.store.ListReservations(ctx, correlationID)
	if err != nil {
		return nil, errors.Wrapf(err, "list reservations %s", correlationID)
	}
	return rs, nil
}

// Available reports the currently sellable quantity of productID.
func (l *Ledger) Available(ctx context.Context, productID string) (int, error) {
	rec, err := l.store.GetStock(ctx, productID)
	if err != nil {
		return 0, err
	}
	return rec.Available, nil
}

// Stock returns the full stock record of productID, reserved units included.
func (l *Ledger) Stock(ctx context.Context, productID string) (StockRecord, error) {
	return l.store.GetStock(ctx, productID)
}

// Restock adds (or with a negative delta, writes off) physical stock.
func (l *Ledger) Restock(ctx context.Context, productID string, delta int) (StockRecord, error) {
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		rec, err := l.store.GetStock(ctx, productID)
		if err != nil {
			return StockRecord{}, errors.Wrapf(err, "load stock %s", productID)
		}
		if rec.Available+delta < 0 {
			return StockRecord{}, &ShortageError{ProductID: productID, Requested: -delta, Available: rec.Available}
		}
		err = l.store.AdjustIfVersion(ctx, productID, rec.Version, delta)
		if err == nil {
			rec.Available += delta
			rec.Version++
			l.log.WithFields(logrus.Fields{"product_id": productID, "delta": delta, "available": rec.Available}).Info("stock adjusted")
			return rec, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return StockRecord{}, errors.Wrapf(err, "restock %s", productID)
		}
	}
	return StockRecord{}, errors.WithStack(ErrContention)
}

// ReleaseStale releases reservations left open by a checkout that never
// persisted its order. isLive reports whether the correlation id still
// belongs to a pending order.
func (l *Ledger) ReleaseStale(ctx context.Context, before time.Time, limit int, isLive func(ctx context.Context, correlationID string) (bool, error)) (int, error) {
	rs, err := l.store.ListStaleReserved(ctx, before, limit)
	if err != nil {
		return 0, errors.Wrap(err, "list stale reservations")
	}
	released := 0
	for _, r := range rs {
		live, err := isLive(ctx, r.CorrelationID)
		if err != nil {
			return released, err
		}
		if live {
			continue
		}
		if err := l.Release(ctx, r.Token()); err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}
