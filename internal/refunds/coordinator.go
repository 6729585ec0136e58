package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
)

// OrderStore is the slice of the order store refunds touch.
type OrderStore interface {
	Get(ctx context.Context, id string) (orders.Order, error)
	SetPaymentStatus(ctx context.Context, id string, to orders.PaymentStatus, from ...orders.PaymentStatus) (orders.Order, bool, error)
}

type Coordinator struct {
	store     Store
	orders    OrderStore
	intents   payments.Store
	processor payments.Processor

	events   events.Publisher
	cache    orders.StatusCache
	producer string

	retryBase time.Duration
	retryMax  time.Duration
	claimTTL  time.Duration

	clock clock.Clock
	log   logrus.FieldLogger
}

type Option func(*Coordinator)

// WithBackoff sets the delay after the first failed attempt and its cap.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Coordinator) {
		if base > 0 {
			c.retryBase = base
		}
		if maxDelay > 0 {
			c.retryMax = maxDelay
		}
	}
}

func WithEvents(p events.Publisher) Option { return func(c *Coordinator) { c.events = p } }
func WithCache(sc orders.StatusCache) Option { return func(c *Coordinator) { c.cache = sc } }
func WithProducer(name string) Option { return func(c *Coordinator) { c.producer = name } }

func NewCoordinator(store Store, orderStore OrderStore, intents payments.Store, processor payments.Processor, clk clock.Clock, log logrus.FieldLogger, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		orders:    orderStore,
		intents:   intents,
		processor: processor,
		producer:  "order-api",
		retryBase: 30 * time.Second,
		retryMax:  30 * time.Minute,
		claimTTL:  2 * time.Minute,
		clock:     clk,
		log:       log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefundOrder satisfies orders.Refunder. A queued refund is not an error.
func (c *Coordinator) RefundOrder(ctx context.Context, orderID string) error {
	_, err := c.Refund(ctx, orderID)
	return err
}

// Refund returns the captured payment of an order. Only a captured payment
// can be refunded. If the processor call fails the refund stays queued with
// a backoff and is retried by Retry and ProcessDue.
func (c *Coordinator) Refund(ctx context.Context, orderID string) (Refund, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return Refund{}, err
	}

	existing, err := c.store.GetByOrder(ctx, orderID)
	switch {
	case err == nil:
		if existing.Status == StatusSucceeded {
			c.markRefunded(ctx, existing)
			return existing, nil
		}
		return c.attempt(ctx, existing)
	case !errors.Is(err, ErrNotFound):
		return Refund{}, errors.Wrap(err, "load refund")
	}

	if o.PaymentStatus != orders.PaymentCaptured {
		return Refund{}, ErrNotCaptured
	}
	in, err := c.intents.GetByOrder(ctx, orderID)
	if err != nil {
		return Refund{}, errors.Wrap(err, "load intent")
	}
	if in.Status != payments.IntentCaptured || in.ProcessorPaymentID == "" {
		return Refund{}, ErrNotCaptured
	}

	now := c.clock.Now()
	r := Refund{
		ID:                 uuid.NewString(),
		OrderID:            orderID,
		IntentID:           in.ID,
		ProcessorPaymentID: in.ProcessorPaymentID,
		AmountMinor:        in.AmountMinor,
		Currency:           in.Currency,
		Status:             StatusQueued,
		NextAttemptAt:      now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := c.store.Create(ctx, r); err != nil {
		if !errors.Is(err, ErrRefundExists) {
			return Refund{}, errors.Wrap(err, "persist refund")
		}
		if r, err = c.store.GetByOrder(ctx, orderID); err != nil {
			return Refund{}, err
		}
	}
	return c.attempt(ctx, r)
}

// Retry attempts a queued refund if it is due.
func (c *Coordinator) Retry(ctx context.Context, refundID string) (Refund, error) {
	r, err := c.store.Get(ctx, refundID)
	if err != nil {
		return Refund{}, err
	}
	if r.Status == StatusSucceeded {
		return r, nil
	}
	return c.attempt(ctx, r)
}

// ProcessDue attempts every queued refund that is due and reports how many
// succeeded.
func (c *Coordinator) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := c.store.ListDue(ctx, c.clock.Now(), limit)
	if err != nil {
		return 0, errors.Wrap(err, "list due refunds")
	}
	done := 0
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		res, err := c.attempt(ctx, r)
		if err != nil {
			c.log.WithError(err).WithField("refund_id", r.ID).Error("refund attempt")
			continue
		}
		if res.Status == StatusSucceeded {
			done++
		}
	}
	return done, nil
}

func (c *Coordinator) attempt(ctx context.Context, r Refund) (Refund, error) {
	now := c.clock.Now()
	claimed, ok, err := c.store.Claim(ctx, r.ID, now, now.Add(c.claimTTL))
	if err != nil {
		return r, errors.Wrap(err, "claim refund")
	}
	if !ok {
		// not due yet, already done, or another worker holds it
		return claimed, nil
	}

	log := c.log.WithFields(logrus.Fields{"refund_id": claimed.ID, "order_id": claimed.OrderID, "attempt": claimed.Attempts})
	refundID, perr := c.processor.Refund(ctx, claimed.ProcessorPaymentID, claimed.AmountMinor, claimed.ID)
	if perr != nil {
		next := now.Add(c.Backoff(claimed.Attempts))
		queued, err := c.store.Reschedule(ctx, claimed.ID, perr.Error(), next, now)
		if err != nil {
			return claimed, errors.Wrap(err, "reschedule refund")
		}
		log.WithError(perr).WithField("next_attempt_at", next).Warn("refund queued for retry")
		c.notify(ctx, events.TypeRefundQueued, claimed.OrderID, events.RefundQueued{
			RefundID:      queued.ID,
			OrderID:       queued.OrderID,
			Attempts:      queued.Attempts,
			NextAttemptAt: queued.NextAttemptAt,
			LastError:     queued.LastError,
		})
		return queued, nil
	}

	done, err := c.store.Complete(ctx, claimed.ID, refundID, now)
	if err != nil {
		return claimed, errors.Wrap(err, "complete refund")
	}
	c.markRefunded(ctx, done)
	log.WithField("processor_refund_id", refundID).Info("refund succeeded")
	c.notify(ctx, events.TypeRefundSucceeded, done.OrderID, events.RefundSucceeded{
		RefundID:          done.ID,
		OrderID:           done.OrderID,
		ProcessorRefundID: refundID,
		AmountMinor:       done.AmountMinor,
	})
	return done, nil
}

func (c *Coordinator) markRefunded(ctx context.Context, r Refund) {
	_, applied, err := c.orders.SetPaymentStatus(ctx, r.OrderID, orders.PaymentRefunded, orders.PaymentCaptured)
	if err != nil {
		c.log.WithError(err).WithField("order_id", r.OrderID).Error("mark order refunded")
		return
	}
	if applied && c.cache != nil {
		if err := c.cache.Invalidate(ctx, r.OrderID); err != nil {
			c.log.WithError(err).WithField("order_id", r.OrderID).Warn("invalidate order cache")
		}
	}
}

// Backoff is the delay after the n-th failed attempt.
func (c *Coordinator) Backoff(n int) time.Duration {
	d := c.retryBase
	for i := 1; i < n; i++ {
		d *= 2
		if d >= c.retryMax {
			return c.retryMax
		}
	}
	return d
}

func (c *Coordinator) notify(ctx context.Context, eventType, orderID string, payload any) {
	if c.events == nil {
		return
	}
	env, err := events.New(eventType, c.producer, orderID, c.clock.Now(), payload)
	if err == nil {
		err = c.events.Publish(ctx, env)
	}
	if err != nil {
		c.log.WithError(err).WithField("order_id", orderID).Warn("publish event")
	}
}
