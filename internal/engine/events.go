package engine

import (
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// EventHub broadcasts run events to every consumer created from it
	EventHub struct {
		topic     topic.Topic[*api.RunEvent]
		prod      topic.Producer[*api.RunEvent]
		mu        sync.RWMutex
		closeOnce sync.Once
		closed    bool
	}

	// EventConsumer receives run events from the hub
	EventConsumer = topic.Consumer[*api.RunEvent]
)

// NewEventHub creates a new run event hub
func NewEventHub() *EventHub {
	t := caravan.NewTopic[*api.RunEvent]()
	return &EventHub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// NewConsumer returns a consumer that receives every event published after
// it was created. Callers must Close it when done
func (h *EventHub) NewConsumer() EventConsumer {
	return h.topic.NewConsumer()
}

// Publish sends an event to all consumers. Publishing to a closed hub is a
// no-op
func (h *EventHub) Publish(ev *api.RunEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	message.Send(h.prod, ev)
}

// Close stops the hub's producer
func (h *EventHub) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.prod.Close()
	})
}
