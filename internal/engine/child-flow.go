package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

const maxDelegationDepth = 16

var (
	ErrDelegationDepth = errors.New("delegation depth exceeded")
)

// delegate runs the target agent or flow as a nested run and blocks until it
// is terminal. The nested context holds only the explicitly passed inputs
func (e *Engine) delegate(
	parent *Run, s *api.StepDefinition, ec *ExecutionContext,
) (any, error) {
	flow, err := e.registry.Target(s.Target)
	if err != nil {
		return nil, err
	}
	if parent.depth >= maxDelegationDepth {
		return nil, fmt.Errorf("%w: %s", ErrDelegationDepth, s.Target)
	}

	params, err := resolveParams(s, ec)
	if err != nil {
		return nil, err
	}

	child := e.newChildRun(
		parent, childRunID(parent.id, s.Name), s.Target, params,
		e.flowTimeout(flow),
	)
	slog.Debug("Delegating",
		log.RunID(parent.id),
		log.StepName(s.Name),
		slog.String("target", s.Target),
		slog.String("child", string(child.id)))

	e.executeFlow(child, flow, Child(flow.Params, params))

	st := child.State()
	if st.Status == api.RunSucceeded {
		return st.Result, nil
	}
	err = child.Err()
	if err == nil {
		err = api.ErrRunCancelled
	}
	return nil, &api.DelegationError{
		Err:    err,
		Nested: st.Error,
		Target: s.Target,
		RunID:  child.id,
	}
}

// newChildRun creates a flow run nested under parent and makes it visible
// through the engine's run table
func (e *Engine) newChildRun(
	parent *Run, id api.RunID, target string, inputs api.Args,
	timeout time.Duration,
) *Run {
	child := newRun(parent.ctx, id, api.RunKindFlow, target, inputs, timeout)
	parent.addChild(child)
	e.runs.Store(child.id, child)
	return child
}
