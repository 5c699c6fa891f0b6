package capability

import (
	"context"
	"sync"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// FeedbackInbox is a UIFeedback capability for human feedback delivered
	// out of band, for example through the HTTP API. A ui_feedback step
	// waits in Request until a payload is delivered for its run and step,
	// its wait expires, or its context ends
	FeedbackInbox struct {
		waiters map[inboxKey]chan any
		wait    time.Duration
		mu      sync.Mutex
	}

	inboxKey struct {
		run  api.RunID
		step string
	}
)

var _ api.UIFeedback = (*FeedbackInbox)(nil)

// NewFeedbackInbox creates an inbox. A zero wait answers every request
// immediately with no feedback
func NewFeedbackInbox(wait time.Duration) *FeedbackInbox {
	return &FeedbackInbox{
		waiters: map[inboxKey]chan any{},
		wait:    wait,
	}
}

// Request waits for feedback for the requesting run and step. It reports
// false when no feedback arrived in time
func (f *FeedbackInbox) Request(
	ctx context.Context, req *api.FeedbackRequest,
) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if f.wait <= 0 {
		return nil, false, nil
	}

	key := inboxKey{run: req.RunID, step: req.Step}
	ch := make(chan any, 1)

	f.mu.Lock()
	f.waiters[key] = ch
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		if f.waiters[key] == ch {
			delete(f.waiters, key)
		}
		f.mu.Unlock()
	}()

	t := time.NewTimer(f.wait)
	defer t.Stop()

	select {
	case payload := <-ch:
		return payload, true, nil
	case <-t.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Deliver hands payload to the step of runID waiting for feedback. An empty
// step matches any waiting step of the run. It reports false when nothing
// is waiting
func (f *FeedbackInbox) Deliver(
	runID api.RunID, step string, payload any,
) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key, ch := range f.waiters {
		if key.run != runID || (step != "" && key.step != step) {
			continue
		}
		delete(f.waiters, key)
		ch <- payload
		return true
	}
	return false
}

// Waiting reports whether a step of runID is waiting for feedback
func (f *FeedbackInbox) Waiting(runID api.RunID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.waiters {
		if key.run == runID {
			return true
		}
	}
	return false
}
