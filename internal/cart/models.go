package cart

import "time"

const (
	MaxLineQuantity = 99
	MaxLines        = 50
)

type Line struct {
	ProductID          string    `json:"product_id"`
	Quantity           int       `json:"quantity"`
	PriceSnapshotMinor int64     `json:"price_snapshot_minor"`
	AddedAt            time.Time `json:"added_at"`
}

// Cart is the customer's pending selection. It is not authoritative for
// price; checkout re-validates against the catalog.
type Cart struct {
	CustomerID string    `json:"customer_id"`
	Lines      []Line    `json:"lines"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (c *Cart) find(productID string) int {
	for i, l := range c.Lines {
		if l.ProductID == productID {
			return i
		}
	}
	return -1
}

// SnapshotLine is a validated line priced from the live catalog.
type SnapshotLine struct {
	ProductID      string `json:"product_id"`
	SupplierID     string `json:"supplier_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// Snapshot is the checkout-ready view of a cart.
type Snapshot struct {
	CustomerID string         `json:"customer_id"`
	Lines      []SnapshotLine `json:"lines"`
	CapturedAt time.Time      `json:"captured_at"`
}

type IssueKind string

const (
	IssuePriceChanged      IssueKind = "price_changed"
	IssueInsufficientStock IssueKind = "insufficient_stock"
	IssueUnavailable       IssueKind = "unavailable"
	IssueInvalidQuantity   IssueKind = "invalid_quantity"
)

// Issue describes why one cart line cannot be checked out as-is.
type Issue struct {
	ProductID     string    `json:"product_id"`
	Kind          IssueKind `json:"kind"`
	Requested     int       `json:"requested,omitempty"`
	Available     *int      `json:"available,omitempty"`
	OldPriceMinor int64     `json:"old_price_minor,omitempty"`
	NewPriceMinor int64     `json:"new_price_minor,omitempty"`
}
