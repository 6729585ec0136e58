package memstore

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-orders/internal/events"
)

// Events records published envelopes.
type Events struct {
	mu  sync.Mutex
	all []events.Envelope
}

func (e *Events) Publish(_ context.Context, env events.Envelope) error {
	e.mu.Lock()
	e.all = append(e.all, env)
	e.mu.Unlock()
	return nil
}

// Types returns the event types published so far, in order.
func (e *Events) Types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.all))
	for _, env := range e.all {
		out = append(out, env.EventType)
	}
	return out
}

func (e *Events) Count(eventType string) int {
	n := 0
	for _, t := range e.Types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (e *Events) Last() (events.Envelope, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.all) == 0 {
		return events.Envelope{}, false
	}
	return e.all[len(e.all)-1], true
}
