package cart

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/catalog"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

// Aggregator manages carts. Mutations never touch inventory.
type Aggregator struct {
	store   Store
	catalog catalog.Reader
	stock   StockReader
	clock   clock.Clock
	log     logrus.FieldLogger
}

func NewAggregator(store Store, products catalog.Reader, stock StockReader, clk clock.Clock, log logrus.FieldLogger) *Aggregator {
	return &Aggregator{store: store, catalog: products, stock: stock, clock: clk, log: log}
}

func (a *Aggregator) Get(ctx context.Context, customerID string) (Cart, error) {
	return a.store.Get(ctx, customerID)
}

// AddItem adds qty of productID, merging into an existing line. The line
// captures the catalog price at the time it is added.
func (a *Aggregator) AddItem(ctx context.Context, customerID, productID string, qty int) (Cart, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return Cart{}, ErrInvalidQuantity
	}
	p, err := a.catalog.GetProduct(ctx, productID)
	if err != nil {
		return Cart{}, errors.Wrapf(err, "lookup product %s", productID)
	}
	if !p.Active {
		return Cart{}, ErrUnavailable
	}

	now := a.clock.Now()
	return a.store.Update(ctx, customerID, func(c *Cart) error {
		if i := c.find(productID); i >= 0 {
			merged := c.Lines[i].Quantity + qty
			if merged > MaxLineQuantity {
				return ErrInvalidQuantity
			}
			c.Lines[i].Quantity = merged
			c.Lines[i].PriceSnapshotMinor = p.PriceMinor
		} else {
			if len(c.Lines) >= MaxLines {
				return ErrTooManyLines
			}
			c.Lines = append(c.Lines, Line{
				ProductID:          productID,
				Quantity:           qty,
				PriceSnapshotMinor: p.PriceMinor,
				AddedAt:            now,
			})
		}
		c.UpdatedAt = now
		return nil
	})
}

func (a *Aggregator) UpdateQuantity(ctx context.Context, customerID, productID string, qty int) (Cart, error) {
	if qty < 1 || qty > MaxLineQuantity {
		return Cart{}, ErrInvalidQuantity
	}
	now := a.clock.Now()
	return a.store.Update(ctx, customerID, func(c *Cart) error {
		i := c.find(productID)
		if i < 0 {
			return ErrLineNotFound
		}
		c.Lines[i].Quantity = qty
		c.UpdatedAt = now
		return nil
	})
}

// RemoveItem drops the line for productID. Removing an absent line is not an
// error.
func (a *Aggregator) RemoveItem(ctx context.Context, customerID, productID string) (Cart, error) {
	now := a.clock.Now()
	return a.store.Update(ctx, customerID, func(c *Cart) error {
		if i := c.find(productID); i >= 0 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			c.UpdatedAt = now
		}
		return nil
	})
}

func (a *Aggregator) Clear(ctx context.Context, customerID string) error {
	return a.store.Delete(ctx, customerID)
}

// ToCheckoutSnapshot re-fetches price and availability for every line. When
// any line fails it returns a *CheckoutError listing all of them; changed
// prices are written back to the cart so the customer can accept them.
func (a *Aggregator) ToCheckoutSnapshot(ctx context.Context, customerID string) (Snapshot, error) {
	c, err := a.store.Get(ctx, customerID)
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "load cart %s", customerID)
	}
	if len(c.Lines) == 0 {
		return Snapshot{}, ErrEmptyCart
	}

	var issues []Issue
	repriced := map[string]int64{}
	snap := Snapshot{CustomerID: customerID, CapturedAt: a.clock.Now()}

	for _, l := range c.Lines {
		if l.Quantity < 1 || l.Quantity > MaxLineQuantity {
			issues = append(issues, Issue{ProductID: l.ProductID, Kind: IssueInvalidQuantity, Requested: l.Quantity})
			continue
		}

		p, err := a.catalog.GetProduct(ctx, l.ProductID)
		if errors.Is(err, catalog.ErrProductNotFound) || (err == nil && !p.Active) {
			issues = append(issues, Issue{ProductID: l.ProductID, Kind: IssueUnavailable, Requested: l.Quantity})
			continue
		}
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "lookup product %s", l.ProductID)
		}

		available, err := a.stock.Available(ctx, l.ProductID)
		if errors.Is(err, inventory.ErrProductNotFound) {
			available, err = 0, nil
		}
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "stock for %s", l.ProductID)
		}

		if p.PriceMinor != l.PriceSnapshotMinor {
			issues = append(issues, Issue{
				ProductID:     l.ProductID,
				Kind:          IssuePriceChanged,
				OldPriceMinor: l.PriceSnapshotMinor,
				NewPriceMinor: p.PriceMinor,
			})
			repriced[l.ProductID] = p.PriceMinor
		}
		if available < l.Quantity {
			avail := available
			issues = append(issues, Issue{ProductID: l.ProductID, Kind: IssueInsufficientStock, Requested: l.Quantity, Available: &avail})
		}

		snap.Lines = append(snap.Lines, SnapshotLine{
			ProductID:      p.ID,
			SupplierID:     p.SupplierID,
			Name:           p.Name,
			Quantity:       l.Quantity,
			UnitPriceMinor: p.PriceMinor,
		})
	}

	if len(issues) == 0 {
		return snap, nil
	}

	if len(repriced) > 0 {
		_, err := a.store.Update(ctx, customerID, func(c *Cart) error {
			for i := range c.Lines {
				if price, ok := repriced[c.Lines[i].ProductID]; ok {
					c.Lines[i].PriceSnapshotMinor = price
				}
			}
			return nil
		})
		if err != nil {
			a.log.WithError(err).WithField("customer_id", customerID).Warn("refresh cart prices")
		}
	}
	return Snapshot{}, &CheckoutError{Issues: issues}
}
