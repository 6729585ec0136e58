package refunds

import (
	"context"
	"time"

	"github.com/pkg/errors"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-marketplace-orders/internal/events"
	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
)

// Deduper remembers event ids that were handled.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// QueueHandler consumes refund.queued events and retries the refund once it
// is due. Refunds due further out than MaxWait are left to ProcessDue.
type QueueHandler struct {
	Coordinator *Coordinator
	Dedup       Deduper
	MaxWait     time.Duration
	Log         logrus.FieldLogger
}

// Handle is a kafka.Handler. It returns nil for events it does not act on so
// their offsets are committed.
func (h *QueueHandler) Handle(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m)
	if err != nil {
		h.Log.WithError(err).Warn("skip undecodable message")
		return nil
	}
	if env.EventType != events.TypeRefundQueued {
		return nil
	}

	if h.Dedup != nil {
		seen, err := h.Dedup.Seen(ctx, env.EventID)
		if err != nil {
			h.Log.WithError(err).Warn("refund dedup unavailable")
		} else if seen {
			return nil
		}
	}

	p, err := events.Decode[events.RefundQueued](env)
	if err != nil {
		h.Log.WithError(err).WithField("event_id", env.EventID).Warn("skip malformed refund event")
		return nil
	}

	wait := p.NextAttemptAt.Sub(h.Coordinator.clock.Now())
	if wait > h.MaxWait {
		return nil
	}
	if wait > 0 {
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}

	if _, err := h.Coordinator.Retry(ctx, p.RefundID); err != nil {
		return errors.Wrapf(err, "retry refund %s", p.RefundID)
	}
	if h.Dedup != nil {
		if err := h.Dedup.Mark(ctx, env.EventID); err != nil {
			h.Log.WithError(err).Warn("mark refund event handled")
		}
	}
	return nil
}
