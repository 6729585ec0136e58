package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

var (
	ErrInsufficientStock  = apperr.New(apperr.KindInsufficientStock, "insufficient stock")
	ErrProductNotFound    = apperr.New(apperr.KindNotFound, "product stock not found")
	ErrReservationMissing = apperr.New(apperr.KindNotFound, "reservation not found")
	ErrReservationSettled = apperr.New(apperr.KindInvalidTransition, "reservation already settled")
	ErrContention         = apperr.New(apperr.KindConflict, "stock is busy, please retry")
	ErrInvalidQuantity    = apperr.New(apperr.KindValidation, "quantity must be positive")

	// ErrVersionConflict is returned by stores when a compare-and-swap loses.
	ErrVersionConflict = apperr.New(apperr.KindConflict, "stock version conflict")
)

// Store is the persistence contract for the ledger. Every method is a single
// atomic operation on the backing store.
type Store interface {
	GetStock(ctx context.Context, productID string) (StockRecord, error)

	// ReserveIfVersion moves res.Quantity from available to reserved and
	// records res, but only while the stored version equals expected and
	// available covers the quantity. Otherwise ErrVersionConflict.
	ReserveIfVersion(ctx context.Context, expected int64, res Reservation) error

	// AdjustIfVersion adds delta to available (restock or write-off) under the
	// same version guard.
	AdjustIfVersion(ctx context.Context, productID string, expected int64, delta int) error

	// Settle transitions a reservation from -> to and applies Delta to the
	// stock row together. applied is false, with the stored reservation, when
	// the reservation was not in from.
	Settle(ctx context.Context, reservationID string, from, to ReservationStatus, at time.Time) (res Reservation, applied bool, err error)

	GetReservation(ctx context.Context, reservationID string) (Reservation, error)
	ListReservations(ctx context.Context, correlationID string) ([]Reservation, error)

	// ListStaleReserved returns reservations still in reserved state created
	// before the cutoff.
	ListStaleReserved(ctx context.Context, before time.Time, limit int) ([]Reservation, error)
}
