package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-marketplace-orders/internal/events"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// EnvelopePublisher publishes notification envelopes through a Producer.
type EnvelopePublisher struct {
	Producer *Producer
}

func (p EnvelopePublisher) Publish(_ context.Context, env events.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	p.Producer.Publish(events.Topic(env), events.PartitionKey(env), value,
		kafka.Header{Key: HeaderEventType, Value: []byte(env.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
	return nil
}

// UnmarshalEnvelope decodes a consumed message value.
func UnmarshalEnvelope(m kafka.Message) (events.Envelope, error) {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return env, errors.Wrapf(err, "decode envelope at %s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	return env, nil
}
