package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, env Envelope) error {
	p.Log.WithFields(logrus.Fields{
		"event_id":       env.EventID,
		"event_type":     env.EventType,
		"correlation_id": env.CorrelationID,
	}).Info("event published")
	return nil
}
