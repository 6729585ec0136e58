package orders

import "github.com/shopspring/decimal"

// Pricing recomputes totals on the server from frozen item prices.
type Pricing struct {
	TaxRate                    decimal.Decimal
	DeliveryFeeMinor           int64
	FreeDeliveryThresholdMinor int64
}

type Totals struct {
	SubtotalMinor    int64
	TaxMinor         int64
	DeliveryFeeMinor int64
	TotalMinor       int64
}

// Quote rounds tax half away from zero to the minor unit. Delivery is free
// once the subtotal reaches the threshold; a zero threshold disables that.
func (p Pricing) Quote(items []Item) Totals {
	var t Totals
	for _, it := range items {
		t.SubtotalMinor += it.LineTotalMinor()
	}
	t.TaxMinor = decimal.NewFromInt(t.SubtotalMinor).Mul(p.TaxRate).Round(0).IntPart()
	t.DeliveryFeeMinor = p.DeliveryFeeMinor
	if p.FreeDeliveryThresholdMinor > 0 && t.SubtotalMinor >= p.FreeDeliveryThresholdMinor {
		t.DeliveryFeeMinor = 0
	}
	t.TotalMinor = t.SubtotalMinor + t.TaxMinor + t.DeliveryFeeMinor
	return t
}
