package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

// Run is one live execution of a flow or workflow. Its state may be read
// from any goroutine; it is advanced only by the goroutine executing it
type Run struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	createdAt time.Time
	inputs    api.Args
	done      chan struct{}
	children  map[api.RunID]*Run
	result    any
	err       error
	completed time.Time
	id        api.RunID
	parent    api.RunID
	kind      api.RunKind
	target    string
	status    api.RunStatus
	cursor    string
	outcomes  []*api.ElementOutcome
	depth     int
	mu        sync.Mutex
	cancelled atomic.Bool
}

func newRun(
	parent context.Context, id api.RunID, kind api.RunKind, target string,
	inputs api.Args, timeout time.Duration,
) *Run {
	ctx, cancel := context.WithCancel(parent)
	if timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, timeout)
	}
	return &Run{
		ctx:       ctx,
		cancelCtx: cancel,
		id:        id,
		kind:      kind,
		target:    target,
		inputs:    inputs,
		status:    api.RunPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
		children:  map[api.RunID]*Run{},
	}
}

func withTimeout(
	ctx context.Context, parentCancel context.CancelFunc, d time.Duration,
) (context.Context, context.CancelFunc) {
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		parentCancel()
	}
}

// ID returns the run's identifier
func (r *Run) ID() api.RunID {
	return r.id
}

// Done returns a channel closed when the run reaches a terminal state
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run is terminal or ctx is done
func (r *Run) Wait(ctx context.Context) (*api.RunState, error) {
	select {
	case <-r.done:
		return r.State(), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the run and every nested run
// it has started. The run observes the request at its next step boundary
func (r *Run) Cancel() {
	if r.cancelled.Swap(true) {
		return
	}
	r.cancelChildren()
}

// cancelChildren cancels every nested run started so far, leaving the run
// itself running
func (r *Run) cancelChildren() {
	for _, c := range r.childRuns() {
		c.Cancel()
	}
}

func (r *Run) childRuns() []*Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*Run, 0, len(r.children))
	for _, c := range r.children {
		res = append(res, c)
	}
	return res
}

func (r *Run) isRoot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.parent == ""
}

// finishedBefore reports whether the run reached a terminal state before
// cutoff
func (r *Run) finishedBefore(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.IsTerminal() && r.completed.Before(cutoff)
}

// Cancelled reports whether cancellation has been requested
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Err returns the terminal error of the run, if any
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns a snapshot of the run
func (r *Run) State() *api.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &api.RunState{
		ID:          r.id,
		Parent:      r.parent,
		Kind:        r.kind,
		Target:      r.target,
		Status:      r.status,
		Cursor:      r.cursor,
		Inputs:      r.inputs,
		Result:      r.result,
		Error:       api.NewRunError(r.err),
		Outcomes:    r.outcomes,
		CreatedAt:   r.createdAt,
		CompletedAt: r.completed,
	}
}

// Status returns the current status of the run
func (r *Run) Status() api.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Run) addChild(c *Run) {
	r.mu.Lock()
	c.parent = r.id
	c.depth = r.depth + 1
	r.children[c.id] = c
	r.mu.Unlock()
	if r.Cancelled() {
		c.Cancel()
	}
}

func (r *Run) start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != api.RunPending {
		return false
	}
	r.status = api.RunRunning
	return true
}

func (r *Run) setCursor(step string) {
	r.mu.Lock()
	r.cursor = step
	r.mu.Unlock()
}

func (r *Run) setOutcomes(outcomes []*api.ElementOutcome) {
	r.mu.Lock()
	r.outcomes = outcomes
	r.mu.Unlock()
}

// finish moves the run to a terminal state. It reports false if the run
// was already terminal
func (r *Run) finish(status api.RunStatus, result any, err error) bool {
	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return false
	}
	r.status = status
	r.result = result
	r.err = err
	r.completed = time.Now()
	r.mu.Unlock()

	r.cancelCtx()
	close(r.done)
	return true
}

// boundary checks for cancellation and run deadline between steps
func (r *Run) boundary() error {
	if r.Cancelled() {
		return api.ErrRunCancelled
	}
	switch r.ctx.Err() {
	case nil:
		return nil
	case context.DeadlineExceeded:
		return api.ErrRunTimeout
	default:
		return api.ErrRunCancelled
	}
}

func childRunID(parent api.RunID, name string) api.RunID {
	return api.RunID(string(parent) + ":" + name)
}
