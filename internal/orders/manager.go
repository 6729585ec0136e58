package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/cart"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	"github.com/ariefcatur/go-marketplace-orders/internal/inventory"
)

// Manager is the single writer of order status.
type Manager struct {
	store    Store
	ledger   StockLedger
	pricing  Pricing
	currency string
	producer string

	captures CaptureChecker
	refunds  Refunder
	events   events.Publisher
	cache    StatusCache
	guard    InFlightGuard

	clock clock.Clock
	log   logrus.FieldLogger
}

type Option func(*Manager)

func WithCurrency(c string) Option { return func(m *Manager) { m.currency = c } }
func WithProducer(name string) Option { return func(m *Manager) { m.producer = name } }
func WithCaptureChecker(c CaptureChecker) Option { return func(m *Manager) { m.captures = c } }
func WithRefunder(r Refunder) Option { return func(m *Manager) { m.refunds = r } }
func WithPublisher(p events.Publisher) Option { return func(m *Manager) { m.events = p } }
func WithCache(c StatusCache) Option { return func(m *Manager) { m.cache = c } }
func WithInFlightGuard(g InFlightGuard) Option { return func(m *Manager) { m.guard = g } }

func NewManager(store Store, ledger StockLedger, pricing Pricing, clk clock.Clock, log logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		ledger:   ledger,
		pricing:  pricing,
		currency: "INR",
		producer: "order-api",
		clock:    clk,
		log:      log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type CreateRequest struct {
	CustomerID     string
	IdempotencyKey string
	Snapshot       cart.Snapshot
}

type Created struct {
	Order    Order
	Tokens   []inventory.Token
	Replayed bool
}

func invalid(format string, args ...any) error {
	return apperr.New(apperr.KindValidation, fmt.Sprintf(format, args...))
}

func (m *Manager) Get(ctx context.Context, orderID string) (Order, error) {
	return m.store.Get(ctx, orderID)
}

// CreateOrder reserves every line and persists the order only when all
// reservations succeeded. Reservations taken before a failure are released
// before returning. A repeated idempotency key returns the stored order.
func (m *Manager) CreateOrder(ctx context.Context, req CreateRequest) (Created, error) {
	if req.IdempotencyKey != "" {
		prior, found, err := m.Lookup(ctx, req.CustomerID, req.IdempotencyKey)
		if err != nil || found {
			return prior, err
		}
	}
	items, err := itemsFromSnapshot(req)
	if err != nil {
		return Created{}, err
	}

	if req.IdempotencyKey != "" {
		if m.guard != nil {
			claimed, err := m.guard.Claim(ctx, req.CustomerID, req.IdempotencyKey)
			switch {
			case err != nil:
				// the unique key on orders still catches duplicates
				m.log.WithError(err).Warn("idempotency claim unavailable")
			case !claimed:
				return Created{}, ErrInFlight
			default:
				defer func() {
					if err := m.guard.Release(context.WithoutCancel(ctx), req.CustomerID, req.IdempotencyKey); err != nil {
						m.log.WithError(err).Warn("release idempotency claim")
					}
				}()
			}
		}
	}

	orderID := uuid.NewString()
	log := m.log.WithFields(logrus.Fields{"order_id": orderID, "customer_id": req.CustomerID})

	tokens := make([]inventory.Token, 0, len(items))
	for _, it := range items {
		tok, err := m.ledger.Reserve(ctx, it.ProductID, it.Quantity, orderID)
		if err != nil {
			m.compensate(ctx, log, tokens)
			log.WithError(err).WithField("product_id", it.ProductID).Info("checkout rejected")
			return Created{}, err
		}
		tokens = append(tokens, tok)
	}

	now := m.clock.Now()
	totals := m.pricing.Quote(items)
	o := Order{
		ID:               orderID,
		CustomerID:       req.CustomerID,
		IdempotencyKey:   req.IdempotencyKey,
		Items:            items,
		Status:           StatusPendingPayment,
		PaymentStatus:    PaymentUnpaid,
		Currency:         m.currency,
		SubtotalMinor:    totals.SubtotalMinor,
		TaxMinor:         totals.TaxMinor,
		DeliveryFeeMinor: totals.DeliveryFeeMinor,
		TotalMinor:       totals.TotalMinor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.Create(ctx, o); err != nil {
		m.compensate(ctx, log, tokens)
		if errors.Is(err, ErrDuplicateKey) {
			existing, gerr := m.store.GetByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if gerr == nil {
				return m.replay(ctx, existing)
			}
		}
		return Created{}, errors.Wrap(err, "persist order")
	}

	evItems := make([]events.OrderItem, 0, len(items))
	for _, it := range items {
		evItems = append(evItems, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	m.notify(ctx, events.TypeOrderCreated, o.ID, events.OrderCreated{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		Items:      evItems,
		TotalMinor: o.TotalMinor,
		Currency:   o.Currency,
	})
	log.WithField("total_minor", o.TotalMinor).Info("order created")
	return Created{Order: o, Tokens: tokens}, nil
}

func itemsFromSnapshot(req CreateRequest) ([]Item, error) {
	if req.CustomerID == "" {
		return nil, invalid("customer id is required")
	}
	if req.Snapshot.CustomerID != "" && req.Snapshot.CustomerID != req.CustomerID {
		return nil, invalid("cart belongs to another customer")
	}
	if len(req.Snapshot.Lines) == 0 {
		return nil, cart.ErrEmptyCart
	}
	seen := make(map[string]bool, len(req.Snapshot.Lines))
	items := make([]Item, 0, len(req.Snapshot.Lines))
	for _, l := range req.Snapshot.Lines {
		switch {
		case l.ProductID == "":
			return nil, invalid("line without product id")
		case seen[l.ProductID]:
			return nil, invalid("product %s appears twice", l.ProductID)
		case l.Quantity < 1 || l.Quantity > cart.MaxLineQuantity:
			return nil, invalid("quantity for %s must be between 1 and %d", l.ProductID, cart.MaxLineQuantity)
		case l.UnitPriceMinor < 0:
			return nil, invalid("price for %s is negative", l.ProductID)
		}
		seen[l.ProductID] = true
		items = append(items, Item{
			ProductID:      l.ProductID,
			SupplierID:     l.SupplierID,
			Name:           l.Name,
			Quantity:       l.Quantity,
			UnitPriceMinor: l.UnitPriceMinor,
		})
	}
	return items, nil
}

// compensate releases reservations taken by a failed checkout. A release that
// fails here is picked up later by the stale reservation sweep.
func (m *Manager) compensate(ctx context.Context, log logrus.FieldLogger, tokens []inventory.Token) {
	ctx = context.WithoutCancel(ctx)
	for _, tok := range tokens {
		if err := m.ledger.Release(ctx, tok); err != nil {
			log.WithError(err).WithField("reservation_id", tok.ReservationID).Error("compensating release failed")
		}
	}
}

// Lookup returns the order a customer already created with key. The cart is
// usually gone by then, so callers check this before building a snapshot.
func (m *Manager) Lookup(ctx context.Context, customerID, key string) (Created, bool, error) {
	existing, err := m.store.GetByIdempotencyKey(ctx, customerID, key)
	if errors.Is(err, ErrNotFound) {
		return Created{}, false, nil
	}
	if err != nil {
		return Created{}, false, errors.Wrap(err, "lookup idempotency key")
	}
	c, err := m.replay(ctx, existing)
	if err != nil {
		return Created{}, false, err
	}
	return c, true, nil
}

func (m *Manager) replay(ctx context.Context, o Order) (Created, error) {
	rs, err := m.ledger.Tokens(ctx, o.ID)
	if err != nil {
		return Created{}, err
	}
	tokens := make([]inventory.Token, 0, len(rs))
	for _, r := range rs {
		tokens = append(tokens, r.Token())
	}
	return Created{Order: o, Tokens: tokens, Replayed: true}, nil
}

// ConfirmPayment moves a pending_payment order with a captured intent to
// confirmed and commits its reservations. On any other state it returns the
// order unchanged, except that a confirmed order whose commits did not all
// land gets them re-applied and is announced then.
func (m *Manager) ConfirmPayment(ctx context.Context, orderID string) (Order, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPendingPayment {
		if o.Status == StatusConfirmed {
			return m.completeConfirmation(ctx, o)
		}
		return o, nil
	}

	if m.captures == nil {
		return o, errors.New("no capture checker configured")
	}
	captured, err := m.captures.IsCaptured(ctx, orderID)
	if err != nil {
		return o, errors.Wrap(err, "check capture")
	}
	if !captured {
		return o, ErrNotCaptured
	}

	next, applied, err := m.store.Transition(ctx, orderID, StatusPendingPayment, Change{
		To:            StatusConfirmed,
		At:            m.clock.Now(),
		PaymentStatus: PaymentCaptured,
	})
	if err != nil {
		return o, errors.Wrap(err, "confirm order")
	}
	if !applied {
		// lost the race; the order has left pending_payment
		return m.ConfirmPayment(ctx, orderID)
	}
	return m.completeConfirmation(ctx, next)
}

// completeConfirmation commits the open reservations of a confirmed order.
// The order is announced by whichever call commits them, so a confirmation
// interrupted before its commits is finished and announced by the retry.
func (m *Manager) completeConfirmation(ctx context.Context, o Order) (Order, error) {
	rs, err := m.ledger.Tokens(ctx, o.ID)
	if err != nil {
		return o, err
	}
	open := false
	for _, r := range rs {
		if r.Status == inventory.StatusReserved {
			open = true
			break
		}
	}
	if !open {
		return o, nil
	}
	if err := m.ledger.CommitAll(ctx, o.ID); err != nil {
		return o, errors.Wrap(err, "commit reservations")
	}

	m.invalidate(ctx, o.ID)
	m.notify(ctx, events.TypeOrderConfirmed, o.ID, events.OrderConfirmed{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		TotalMinor: o.TotalMinor,
	})
	m.log.WithField("order_id", o.ID).Info("order confirmed")
	return o, nil
}

// Advance moves an order one step along the fulfilment chain. Skipping a
// step, going back, or cancelling through here is an invalid transition.
func (m *Manager) Advance(ctx context.Context, orderID string, target Status) (Order, error) {
	if !target.Valid() {
		return Order{}, invalid("unknown status %q", target)
	}
	switch target {
	case StatusProcessing, StatusShipped, StatusDelivered:
	default:
		return Order{}, errors.Wrapf(ErrInvalidTransition, "advance to %s", target)
	}

	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(o.Status, target) {
		return o, errors.Wrapf(ErrInvalidTransition, "%s -> %s", o.Status, target)
	}
	next, applied, err := m.store.Transition(ctx, orderID, o.Status, Change{To: target, At: m.clock.Now()})
	if err != nil {
		return o, errors.Wrap(err, "advance order")
	}
	if !applied {
		return next, errors.Wrapf(ErrInvalidTransition, "%s -> %s", next.Status, target)
	}

	m.invalidate(ctx, orderID)
	m.log.WithFields(logrus.Fields{"order_id": orderID, "from": o.Status, "to": target}).Info("order advanced")
	return next, nil
}

// Cancel is the only path to cancelled. It releases open reservations,
// reverses committed ones and refunds a captured payment. Cancelling an
// already cancelled order re-runs those steps, so a failed attempt can be
// retried.
func (m *Manager) Cancel(ctx context.Context, orderID, reason string) (Order, error) {
	if reason == "" {
		reason = ReasonCustomer
	}
	for attempt := 0; attempt < len(validNext); attempt++ {
		o, err := m.store.Get(ctx, orderID)
		if err != nil {
			return Order{}, err
		}
		if o.Status == StatusCancelled {
			return m.settleCancelled(ctx, o)
		}
		if !o.Status.Cancellable() {
			return o, ErrCannotCancel
		}

		next, applied, err := m.store.Transition(ctx, orderID, o.Status, Change{
			To:     StatusCancelled,
			At:     m.clock.Now(),
			Reason: reason,
		})
		if err != nil {
			return o, errors.Wrap(err, "cancel order")
		}
		if !applied {
			continue
		}

		return m.cancelled(ctx, next, o.Status, reason)
	}
	return Order{}, apperr.New(apperr.KindConflict, "order is changing, please retry")
}

// Expire cancels an order that is still pending_payment with reason
// payment_timeout. Unlike Cancel it never touches an order that has moved on,
// so a payment confirmed while the sweep was running is kept.
func (m *Manager) Expire(ctx context.Context, orderID string) (Order, bool, error) {
	next, applied, err := m.store.Transition(ctx, orderID, StatusPendingPayment, Change{
		To:     StatusCancelled,
		At:     m.clock.Now(),
		Reason: ReasonPaymentTimeout,
	})
	if err != nil {
		return next, false, errors.Wrap(err, "expire order")
	}
	if !applied {
		return next, false, nil
	}
	settled, err := m.cancelled(ctx, next, StatusPendingPayment, ReasonPaymentTimeout)
	return settled, true, err
}

func (m *Manager) cancelled(ctx context.Context, o Order, from Status, reason string) (Order, error) {
	m.log.WithFields(logrus.Fields{"order_id": o.ID, "from": from, "reason": reason}).Info("order cancelled")
	settled, err := m.settleCancelled(ctx, o)
	m.invalidate(ctx, o.ID)
	m.notify(ctx, events.TypeOrderCancelled, o.ID, events.OrderCancelled{
		OrderID:       o.ID,
		CustomerID:    settled.CustomerID,
		Reason:        reason,
		PaymentStatus: string(settled.PaymentStatus),
	})
	return settled, err
}

// settleCancelled returns the stock of a cancelled order and refunds its
// payment. The intent is consulted too: a callback can capture it and fail
// before the order records the payment.
func (m *Manager) settleCancelled(ctx context.Context, o Order) (Order, error) {
	if err := m.ledger.ReleaseAll(ctx, o.ID); err != nil {
		return o, errors.Wrap(err, "release reservations")
	}
	if o.PaymentStatus != PaymentCaptured && o.PaymentStatus != PaymentRefunded {
		captured, err := m.IsCaptured(ctx, o.ID)
		if err != nil {
			return o, errors.Wrap(err, "check capture")
		}
		if !captured {
			return o, nil
		}
		return m.recordLateCapture(ctx, o.ID)
	}
	if o.PaymentStatus != PaymentCaptured {
		return o, nil
	}
	if m.refunds == nil {
		return o, errors.New("no refunder configured")
	}
	if err := m.refunds.RefundOrder(ctx, o.ID); err != nil {
		return o, errors.Wrap(err, "refund order")
	}
	refreshed, err := m.store.Get(ctx, o.ID)
	if err != nil {
		return o, err
	}
	m.invalidate(ctx, o.ID)
	return refreshed, nil
}

// SettleLateCapture handles money captured for an order that was already
// cancelled, usually by the expiry sweep: the payment is recorded and then
// refunded.
func (m *Manager) SettleLateCapture(ctx context.Context, orderID string) (Order, error) {
	o, err := m.store.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusCancelled {
		return o, errors.Wrapf(ErrInvalidTransition, "late capture on %s order", o.Status)
	}
	return m.recordLateCapture(ctx, orderID)
}

func (m *Manager) recordLateCapture(ctx context.Context, orderID string) (Order, error) {
	o, applied, err := m.store.SetPaymentStatus(ctx, orderID, PaymentCaptured, PaymentUnpaid, PaymentAuthorized, PaymentFailed)
	if err != nil {
		return Order{}, errors.Wrap(err, "record late capture")
	}
	if applied {
		m.log.WithField("order_id", orderID).Warn("payment captured after cancellation, refunding")
	}
	return m.settleCancelled(ctx, o)
}

// RecordPaymentFailure marks the payment of a pending order failed. The order
// stays pending_payment with its stock reserved until it is paid or expires.
func (m *Manager) RecordPaymentFailure(ctx context.Context, orderID string) (Order, error) {
	o, applied, err := m.store.SetPaymentStatus(ctx, orderID, PaymentFailed, PaymentUnpaid, PaymentAuthorized)
	if err != nil {
		return Order{}, errors.Wrap(err, "record payment failure")
	}
	if applied {
		m.invalidate(ctx, orderID)
	}
	return o, nil
}

// ReopenPayment puts a failed payment back to unpaid when the customer
// retries within the grace period.
func (m *Manager) ReopenPayment(ctx context.Context, orderID string) (Order, error) {
	o, applied, err := m.store.SetPaymentStatus(ctx, orderID, PaymentUnpaid, PaymentFailed)
	if err != nil {
		return Order{}, errors.Wrap(err, "reopen payment")
	}
	if applied {
		m.invalidate(ctx, orderID)
	}
	return o, nil
}

// IsLive reports whether a reservation correlation id still belongs to an
// order that holds stock.
func (m *Manager) IsLive(ctx context.Context, orderID string) (bool, error) {
	o, err := m.store.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return o.Status != StatusCancelled, nil
}

func (m *Manager) Expired(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	return m.store.ListExpired(ctx, before, limit)
}

func (m *Manager) IsCaptured(ctx context.Context, orderID string) (bool, error) {
	if m.captures == nil {
		return false, nil
	}
	return m.captures.IsCaptured(ctx, orderID)
}

func (m *Manager) notify(ctx context.Context, eventType, orderID string, payload any) {
	if m.events == nil {
		return
	}
	env, err := events.New(eventType, m.producer, orderID, m.clock.Now(), payload)
	if err == nil {
		err = m.events.Publish(ctx, env)
	}
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"order_id": orderID, "event_type": eventType}).Warn("publish event")
	}
}

func (m *Manager) invalidate(ctx context.Context, orderID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, orderID); err != nil {
		m.log.WithError(err).WithField("order_id", orderID).Warn("invalidate order cache")
	}
}
