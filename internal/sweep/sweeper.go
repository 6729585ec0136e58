// Package sweep resolves checkouts abandoned mid-payment. One sweeper is
// active at a time across processes, guarded by a lease.
package sweep

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/clock"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

type Orders interface {
	Expired(ctx context.Context, before time.Time, limit int) ([]orders.Order, error)
	IsCaptured(ctx context.Context, orderID string) (bool, error)
	ConfirmPayment(ctx context.Context, orderID string) (orders.Order, error)
	Expire(ctx context.Context, orderID string) (orders.Order, bool, error)
	IsLive(ctx context.Context, orderID string) (bool, error)
}

type Stock interface {
	ReleaseStale(ctx context.Context, before time.Time, limit int, isLive func(ctx context.Context, correlationID string) (bool, error)) (int, error)
}

type Refunds interface {
	ProcessDue(ctx context.Context, limit int) (int, error)
}

// Lease is held for the duration of one pass. Extend reports false once the
// lease has been lost to another holder.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

var ErrLeaseLost = errors.New("sweep lease lost")

type Config struct {
	Expiry   time.Duration
	Interval time.Duration
	LeaseTTL time.Duration
	Batch    int
}

// Report summarises one pass.
type Report struct {
	Skipped   bool
	Confirmed int
	Expired   int
	Released  int
	Refunded  int
	Failed    int
}

type Sweeper struct {
	orders  Orders
	stock   Stock
	refunds Refunds
	lease   Lease
	cfg     Config
	clock   clock.Clock
	log     logrus.FieldLogger
}

// New builds a sweeper. refunds may be nil when due refunds are retried
// elsewhere.
func New(o Orders, stock Stock, refunds Refunds, lease Lease, cfg Config, clk clock.Clock, log logrus.FieldLogger) *Sweeper {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = cfg.Interval
	}
	return &Sweeper{orders: o, stock: stock, refunds: refunds, lease: lease, cfg: cfg, clock: clk, log: log}
}

// Run sweeps every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("sweep failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// RunOnce performs one pass if the lease is free. Orders whose payment was
// captured are confirmed; the rest are cancelled and their stock released.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	ok, err := s.lease.Acquire(ctx, s.cfg.LeaseTTL)
	if err != nil {
		return rep, errors.Wrap(err, "acquire sweep lease")
	}
	if !ok {
		rep.Skipped = true
		return rep, nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.WithError(err).Warn("release sweep lease")
		}
	}()

	renewed := s.clock.Now()
	cutoff := renewed.Add(-s.cfg.Expiry)
	expired, err := s.orders.Expired(ctx, cutoff, s.cfg.Batch)
	if err != nil {
		return rep, errors.Wrap(err, "list expired orders")
	}
	for _, o := range expired {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		s.resolve(ctx, o, &rep)
		if err := s.renew(ctx, &renewed); err != nil {
			return rep, err
		}
	}

	released, err := s.stock.ReleaseStale(ctx, cutoff, s.cfg.Batch, s.orders.IsLive)
	rep.Released = released
	if err != nil {
		return rep, errors.Wrap(err, "release stale reservations")
	}

	if s.refunds != nil {
		if err := s.renew(ctx, &renewed); err != nil {
			return rep, err
		}
		n, err := s.refunds.ProcessDue(ctx, s.cfg.Batch)
		rep.Refunded = n
		if err != nil {
			return rep, errors.Wrap(err, "process due refunds")
		}
	}

	if rep.Confirmed+rep.Expired+rep.Released+rep.Refunded+rep.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"confirmed": rep.Confirmed,
			"expired":   rep.Expired,
			"released":  rep.Released,
			"refunded":  rep.Refunded,
			"failed":    rep.Failed,
		}).Info("sweep finished")
	}
	return rep, nil
}

// renew extends the lease once half its TTL has passed since the last renewal.
func (s *Sweeper) renew(ctx context.Context, last *time.Time) error {
	now := s.clock.Now()
	if now.Sub(*last) < s.cfg.LeaseTTL/2 {
		return nil
	}
	ok, err := s.lease.Extend(ctx, s.cfg.LeaseTTL)
	if err != nil {
		return errors.Wrap(err, "extend sweep lease")
	}
	if !ok {
		return errors.WithStack(ErrLeaseLost)
	}
	*last = now
	return nil
}

func (s *Sweeper) resolve(ctx context.Context, o orders.Order, rep *Report) {
	log := s.log.WithField("order_id", o.ID)

	// a delayed callback may have captured the payment
	captured, err := s.orders.IsCaptured(ctx, o.ID)
	if err != nil {
		log.WithError(err).Error("check capture")
		rep.Failed++
		return
	}
	if captured {
		if _, err := s.orders.ConfirmPayment(ctx, o.ID); err != nil {
			log.WithError(err).Error("confirm captured order")
			rep.Failed++
			return
		}
		rep.Confirmed++
		return
	}

	_, applied, err := s.orders.Expire(ctx, o.ID)
	if err != nil {
		log.WithError(err).Error("expire order")
		rep.Failed++
		return
	}
	if applied {
		rep.Expired++
	}
}
