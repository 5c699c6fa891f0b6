package api

import "time"

type (
	// EventType identifies the kind of a RunEvent
	EventType string

	// RunEvent describes one observable transition of a run. Events are
	// published to listeners (websocket clients, tests) as they happen
	RunEvent struct {
		Timestamp time.Time `json:"timestamp"`
		Data      any       `json:"data,omitempty"`
		Error     *RunError `json:"error,omitempty"`
		Type      EventType `json:"type"`
		RunID     RunID     `json:"run_id"`
		Parent    RunID     `json:"parent,omitempty"`
		Target    string    `json:"target,omitempty"`
		Step      string    `json:"step,omitempty"`
		Attempt   int       `json:"attempt,omitempty"`
		Duration  int64     `json:"duration,omitempty"`
	}

	// SubscribeRequest is sent by websocket clients to filter the events
	// they receive
	SubscribeRequest struct {
		Type string             `json:"type"`
		Data ClientSubscription `json:"data"`
	}

	// ClientSubscription selects events by run and type. Empty selects all
	ClientSubscription struct {
		RunIDs     []RunID     `json:"run_ids,omitempty"`
		EventTypes []EventType `json:"event_types,omitempty"`
	}
)

const (
	EventTypeRunStarted    EventType = "run_started"
	EventTypeStepStarted   EventType = "step_started"
	EventTypeStepCompleted EventType = "step_completed"
	EventTypeStepFailed    EventType = "step_failed"
	EventTypeRunSucceeded  EventType = "run_succeeded"
	EventTypeRunFailed     EventType = "run_failed"
	EventTypeRunCancelled  EventType = "run_cancelled"
)

// TerminalEventType returns the event type announcing a terminal status
func TerminalEventType(status RunStatus) EventType {
	switch status {
	case RunSucceeded:
		return EventTypeRunSucceeded
	case RunCancelled:
		return EventTypeRunCancelled
	default:
		return EventTypeRunFailed
	}
}

// Matches reports whether an event is selected by the subscription
func (s *ClientSubscription) Matches(ev *RunEvent) bool {
	if len(s.EventTypes) > 0 && !contains(s.EventTypes, ev.Type) {
		return false
	}
	if len(s.RunIDs) > 0 &&
		!contains(s.RunIDs, ev.RunID) && !contains(s.RunIDs, ev.Parent) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
