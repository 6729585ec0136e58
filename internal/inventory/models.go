package inventory

import "time"

// StockRecord is the per-product stock row. Available and Reserved never go
// negative; Version increases on every mutation.
type StockRecord struct {
	ProductID string
	Available int
	Reserved  int
	Version   int64
	UpdatedAt time.Time
}

type ReservationStatus string

const (
	StatusReserved  ReservationStatus = "reserved"
	StatusCommitted ReservationStatus = "committed"
	StatusReleased  ReservationStatus = "released"
	StatusReversed  ReservationStatus = "reversed"
)

// Reservation is a hold of Quantity units of ProductID on behalf of
// CorrelationID (the order id).
type Reservation struct {
	ID            string
	ProductID     string
	Quantity      int
	CorrelationID string
	Status        ReservationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Token is what callers hold to commit or release a reservation.
type Token struct {
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Quantity      int    `json:"quantity"`
}

func (r Reservation) Token() Token {
	return Token{ReservationID: r.ID, ProductID: r.ProductID, Quantity: r.Quantity}
}

// Delta returns the change to (available, reserved) when a reservation of qty
// moves from one status to another. ok is false for transitions the ledger
// never performs.
func Delta(from, to ReservationStatus, qty int) (available, reserved int, ok bool) {
	switch {
	case from == StatusReserved && to == StatusCommitted:
		return 0, -qty, true
	case from == StatusReserved && to == StatusReleased:
		return qty, -qty, true
	case from == StatusCommitted && to == StatusReversed:
		return qty, 0, true
	}
	return 0, 0, false
}
