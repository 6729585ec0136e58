package payments

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
)

// RetryPolicy bounds every processor call by Timeout and retries transient
// failures with exponential backoff.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Backoff returns the delay before retry n (1-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < n; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

type retrying struct {
	next   Processor
	policy RetryPolicy
	log    logrus.FieldLogger
}

// WithRetry wraps a processor with timeouts and retries. A call that times out
// counts as unavailable.
func WithRetry(next Processor, policy RetryPolicy, log logrus.FieldLogger) Processor {
	return &retrying{next: next, policy: policy, log: log}
}

func (r *retrying) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (string, error) {
	var id string
	err := r.do(ctx, "create_order", func(ctx context.Context) error {
		var err error
		id, err = r.next.CreateOrder(ctx, amountMinor, currency, receipt)
		return err
	})
	return id, err
}

func (r *retrying) Refund(ctx context.Context, processorPaymentID string, amountMinor int64, receipt string) (string, error) {
	var id string
	err := r.do(ctx, "refund", func(ctx context.Context) error {
		var err error
		id, err = r.next.Refund(ctx, processorPaymentID, amountMinor, receipt)
		return err
	})
	return id, err
}

func (r *retrying) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := r.policy.Backoff(attempt)
			r.log.WithError(err).WithFields(logrus.Fields{"op": op, "attempt": attempt, "wait": wait}).Warn("processor call failed, retrying")
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Wrap(ErrProcessorUnavailable, ctx.Err().Error())
			case <-t.C:
			}
		}

		err = r.once(ctx, call)
		if err == nil || !apperr.Is(err, apperr.KindProcessorUnavailable) {
			return err
		}
	}
	return err
}

func (r *retrying) once(ctx context.Context, call func(ctx context.Context) error) error {
	if r.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.policy.Timeout)
		defer cancel()
	}
	err := call(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !apperr.Is(err, apperr.KindProcessorUnavailable) {
		return errors.Wrap(ErrProcessorUnavailable, "processor call timed out")
	}
	return err
}
