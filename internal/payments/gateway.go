package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// OrderService is what the gateway drives on the order side.
type OrderService interface {
	Get(ctx context.Context, orderID string) (orders.Order, error)
	ConfirmPayment(ctx context.Context, orderID string) (orders.Order, error)
	SettleLateCapture(ctx context.Context, orderID string) (orders.Order, error)
	RecordPaymentFailure(ctx context.Context, orderID string) (orders.Order, error)
	ReopenPayment(ctx context.Context, orderID string) (orders.Order, error)
}

// Deduper remembers callbacks that were fully processed.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type GatewayConfig struct {
	WebhookSecret string
	KeyID         string
	Producer      string
}

type Gateway struct {
	store     Store
	processor Processor
	orders    OrderService
	secret    []byte
	keyID     string
	producer  string
	events    events.Publisher
	dedup     Deduper
	clock     clock.Clock
	log       logrus.FieldLogger
}

type GatewayOption func(*Gateway)

func WithEvents(p events.Publisher) GatewayOption { return func(g *Gateway) { g.events = p } }
func WithDeduper(d Deduper) GatewayOption { return func(g *Gateway) { g.dedup = d } }

func NewGateway(store Store, processor Processor, svc OrderService, cfg GatewayConfig, clk clock.Clock, log logrus.FieldLogger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		store:     store,
		processor: processor,
		orders:    svc,
		secret:    []byte(cfg.WebhookSecret),
		keyID:     cfg.KeyID,
		producer:  cfg.Producer,
		clock:     clk,
		log:       log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) checkout(in Intent) Checkout {
	return Checkout{
		IntentID:         in.ID,
		ProcessorOrderID: in.ProcessorOrderID,
		AmountMinor:      in.AmountMinor,
		Currency:         in.Currency,
		KeyID:            g.keyID,
	}
}

func (g *Gateway) Intent(ctx context.Context, orderID string) (Intent, error) {
	return g.store.GetByOrder(ctx, orderID)
}

// CreateIntent opens the processor order for a pending order. An open intent
// is returned as is; a failed one is re-opened with a fresh processor order.
// It never marks the order paid.
func (g *Gateway) CreateIntent(ctx context.Context, o orders.Order) (Checkout, error) {
	if o.Status != orders.StatusPendingPayment {
		return Checkout{}, ErrOrderNotPayable
	}

	existing, err := g.store.GetByOrder(ctx, o.ID)
	switch {
	case err == nil:
		switch existing.Status {
		case IntentCreated:
			return g.checkout(existing), nil
		case IntentCaptured:
			return Checkout{}, ErrAlreadyCaptured
		default:
			return g.reopen(ctx, o, existing)
		}
	case !errors.Is(err, ErrIntentNotFound):
		return Checkout{}, errors.Wrap(err, "load intent")
	}

	log := g.log.WithField("order_id", o.ID)
	poid, err := g.processor.CreateOrder(ctx, o.TotalMinor, o.Currency, o.ID)
	if err != nil {
		log.WithError(err).Warn("open processor order")
		return Checkout{}, err
	}

	now := g.clock.Now()
	in := Intent{
		ID:               uuid.NewString(),
		OrderID:          o.ID,
		ProcessorOrderID: poid,
		AmountMinor:      o.TotalMinor,
		Currency:         o.Currency,
		Status:           IntentCreated,
		Attempts:         1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := g.store.Create(ctx, in); err != nil {
		if errors.Is(err, ErrIntentExists) {
			if cur, gerr := g.store.GetByOrder(ctx, o.ID); gerr == nil && cur.Status == IntentCreated {
				return g.checkout(cur), nil
			}
		}
		return Checkout{}, errors.Wrap(err, "persist intent")
	}
	log.WithFields(logrus.Fields{"intent_id": in.ID, "processor_order_id": poid}).Info("payment intent created")
	return g.checkout(in), nil
}

func (g *Gateway) reopen(ctx context.Context, o orders.Order, failed Intent) (Checkout, error) {
	receipt := fmt.Sprintf("%s-%d", o.ID, failed.Attempts+1)
	poid, err := g.processor.CreateOrder(ctx, failed.AmountMinor, failed.Currency, receipt)
	if err != nil {
		return Checkout{}, err
	}
	now := g.clock.Now()
	in, applied, err := g.store.Update(ctx, failed.ID, func(in *Intent) {
		in.ProcessorOrderID = poid
		in.Status = IntentCreated
		in.FailureCode = ""
		in.FailureReason = ""
		in.Attempts++
		in.UpdatedAt = now
	}, IntentFailed)
	if err != nil {
		return Checkout{}, errors.Wrap(err, "reopen intent")
	}
	if !applied {
		if in.Status == IntentCaptured {
			return Checkout{}, ErrAlreadyCaptured
		}
		return g.checkout(in), nil
	}
	if _, err := g.orders.ReopenPayment(ctx, o.ID); err != nil {
		g.log.WithError(err).WithField("order_id", o.ID).Warn("reopen order payment status")
	}
	g.log.WithFields(logrus.Fields{"order_id": o.ID, "intent_id": in.ID, "attempt": in.Attempts}).Info("payment intent reopened")
	return g.checkout(in), nil
}

// VerifyCallback checks the processor signature and, only when it matches,
// captures the intent and confirms the order. A mismatch fails the intent and
// returns ErrInvalidSignature. Redelivered callbacks are no-ops that return
// the current order. Any processor order issued for the intent is accepted,
// including ones replaced by a reopen.
func (g *Gateway) VerifyCallback(ctx context.Context, cb Callback) (orders.Order, error) {
	log := g.log.WithField("processor_order_id", cb.ProcessorOrderID)

	in, err := g.store.GetByProcessorOrder(ctx, cb.ProcessorOrderID)
	if errors.Is(err, ErrIntentNotFound) {
		alert(log, "callback for unknown processor order")
		return orders.Order{}, ErrInvalidSignature
	}
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "load intent")
	}
	log = log.WithFields(logrus.Fields{"order_id": in.OrderID, "intent_id": in.ID})

	// in may have been reopened since; cb can name an earlier processor order
	stale := cb.ProcessorOrderID != in.ProcessorOrderID

	if !VerifySignature(g.secret, cb.ProcessorOrderID, cb.ProcessorPaymentID, cb.Signature) {
		alert(log, "payment callback signature mismatch")
		if !stale {
			g.fail(ctx, log, in, Failure{Code: "signature_mismatch", Description: "callback signature mismatch"}, IntentCreated)
		}
		return orders.Order{}, ErrInvalidSignature
	}
	if cb.OrderID != "" && cb.OrderID != in.OrderID {
		return orders.Order{}, ErrCallbackOrderMatch
	}

	if g.dedup != nil {
		seen, err := g.dedup.Seen(ctx, cb.ProcessorPaymentID)
		if err != nil {
			log.WithError(err).Warn("callback dedup unavailable")
		} else if seen {
			return g.orders.Get(ctx, in.OrderID)
		}
	}

	now := g.clock.Now()
	captured, applied, err := g.store.Update(ctx, in.ID, func(in *Intent) {
		in.Status = IntentCaptured
		in.ProcessorOrderID = cb.ProcessorOrderID
		in.ProcessorPaymentID = cb.ProcessorPaymentID
		in.CapturedAt = &now
		in.FailureCode = ""
		in.FailureReason = ""
		in.UpdatedAt = now
	}, IntentCreated, IntentFailed)
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "capture intent")
	}
	if applied {
		log.WithFields(logrus.Fields{"processor_payment_id": cb.ProcessorPaymentID, "superseded_order": stale}).Info("payment captured")
	} else if captured.ProcessorPaymentID != cb.ProcessorPaymentID {
		log.WithFields(logrus.Fields{
			"alert":                true,
			"processor_payment_id": cb.ProcessorPaymentID,
			"captured_payment_id":  captured.ProcessorPaymentID,
		}).Error("second payment reported for a captured intent")
	}

	o, err := g.orders.ConfirmPayment(ctx, in.OrderID)
	if err != nil {
		return o, err
	}
	if o.Status == orders.StatusCancelled {
		if o, err = g.orders.SettleLateCapture(ctx, in.OrderID); err != nil {
			return o, err
		}
	}

	if g.dedup != nil {
		if err := g.dedup.Mark(ctx, cb.ProcessorPaymentID); err != nil {
			log.WithError(err).Warn("mark callback processed")
		}
	}
	return o, nil
}

// HandleFailure records a failed payment attempt. The order stays
// pending_payment with stock reserved so the customer can retry until the
// expiry sweep cancels it.
func (g *Gateway) HandleFailure(ctx context.Context, orderID string, f Failure) (Intent, error) {
	in, err := g.store.GetByOrder(ctx, orderID)
	if err != nil {
		return Intent{}, err
	}
	if f.Code == "" {
		f.Code = "payment_failed"
	}
	log := g.log.WithFields(logrus.Fields{"order_id": orderID, "intent_id": in.ID})
	updated, applied := g.fail(ctx, log, in, f, IntentCreated, IntentFailed)
	if !applied {
		if updated.Status == IntentCaptured {
			return updated, ErrAlreadyCaptured
		}
		return updated, errors.New("record payment failure")
	}
	return updated, nil
}

func (g *Gateway) fail(ctx context.Context, log logrus.FieldLogger, in Intent, f Failure, from ...IntentStatus) (Intent, bool) {
	now := g.clock.Now()
	updated, applied, err := g.store.Update(ctx, in.ID, func(in *Intent) {
		in.Status = IntentFailed
		in.FailureCode = f.Code
		in.FailureReason = f.Description
		in.UpdatedAt = now
	}, from...)
	if err != nil {
		log.WithError(err).Error("mark intent failed")
		return in, false
	}
	if !applied {
		return updated, false
	}
	if _, err := g.orders.RecordPaymentFailure(ctx, in.OrderID); err != nil {
		log.WithError(err).Warn("record order payment failure")
	}
	if in.Status == IntentCreated {
		g.notify(ctx, in.OrderID, events.PaymentFailed{
			OrderID:  in.OrderID,
			IntentID: in.ID,
			Code:     f.Code,
			Reason:   f.Description,
		})
	}
	log.WithField("code", f.Code).Info("payment failed")
	return updated, true
}

func (g *Gateway) notify(ctx context.Context, orderID string, payload events.PaymentFailed) {
	if g.events == nil {
		return
	}
	env, err := events.New(events.TypePaymentFailed, g.producer, orderID, g.clock.Now(), payload)
	if err == nil {
		err = g.events.Publish(ctx, env)
	}
	if err != nil {
		g.log.WithError(err).WithField("order_id", orderID).Warn("publish event")
	}
}

func alert(log logrus.FieldLogger, msg string) {
	log.WithFields(logrus.Fields{"alert": true, "kind": apperr.KindInvalidSignature}).Warn(msg)
}
