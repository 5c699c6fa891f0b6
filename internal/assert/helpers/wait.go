package helpers

import (
	"testing"
	"time"

	"github.com/kode4food/agentflow/internal/engine"
	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// EventFilter selects run events
	EventFilter func(*api.RunEvent) bool

	// EventWaiter waits for events matching a filter. Create it before
	// triggering the action
	EventWaiter struct {
		consumer engine.EventConsumer
		filter   EventFilter
		desc     string
	}
)

// Wait blocks until a matching event arrives and returns it
func (w *EventWaiter) Wait(t *testing.T, timeout time.Duration) *api.RunEvent {
	t.Helper()
	defer w.consumer.Close()

	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-w.consumer.Receive():
			if !ok {
				t.Fatalf("event hub closed waiting for %s", w.desc)
			}
			if ev != nil && w.filter(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %s", w.desc)
		}
	}
}

// Subscribe creates a waiter for the first event matching filter
func (e *TestEngineEnv) Subscribe(desc string, filter EventFilter) *EventWaiter {
	return &EventWaiter{
		consumer: e.Engine.Events().NewConsumer(),
		filter:   filter,
		desc:     desc,
	}
}

// EventTypes filters events by type and run
func EventTypes(run api.RunID, types ...api.EventType) EventFilter {
	sub := &api.ClientSubscription{
		RunIDs:     []api.RunID{run},
		EventTypes: types,
	}
	return sub.Matches
}
