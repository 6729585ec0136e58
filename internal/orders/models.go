package orders

import "time"

// Item is an order line. Prices are frozen at creation.
type Item struct {
	ProductID      string `json:"product_id"`
	SupplierID     string `json:"supplier_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

func (it Item) LineTotalMinor() int64 {
	return it.UnitPriceMinor * int64(it.Quantity)
}

// Order is the durable audit record of a checkout. It is only ever changed
// through the transitions in status.go.
type Order struct {
	ID             string        `json:"id"`
	CustomerID     string        `json:"customer_id"`
	IdempotencyKey string        `json:"-"`
	Items          []Item        `json:"items"`
	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status"`
	Currency       string        `json:"currency"`

	SubtotalMinor    int64 `json:"subtotal_minor"`
	TaxMinor         int64 `json:"tax_minor"`
	DeliveryFeeMinor int64 `json:"delivery_fee_minor"`
	TotalMinor       int64 `json:"total_minor"`

	CancelReason string `json:"cancel_reason,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ProcessingAt *time.Time `json:"processing_at,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
}

// Change is one status transition. PaymentStatus is applied together with the
// status when set.
type Change struct {
	To            Status
	At            time.Time
	PaymentStatus PaymentStatus
	Reason        string
}

// Apply writes c onto o, stamping the timestamp that belongs to the target
// status. Stores call it so every backend stamps the same fields.
func (c Change) Apply(o *Order) {
	at := c.At
	o.Status = c.To
	o.UpdatedAt = at
	if c.PaymentStatus != "" {
		o.PaymentStatus = c.PaymentStatus
	}
	switch c.To {
	case StatusConfirmed:
		o.ConfirmedAt = &at
	case StatusProcessing:
		o.ProcessingAt = &at
	case StatusShipped:
		o.ShippedAt = &at
	case StatusDelivered:
		o.DeliveredAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
		o.CancelReason = c.Reason
	}
}
