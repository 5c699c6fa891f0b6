package engine

import (
	"context"
	"errors"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

// flowExec interprets the steps of one flow run. Steps execute strictly in
// declaration order; conditional branches run as if inlined
type flowExec struct {
	e      *Engine
	run    *Run
	flow   *api.FlowDefinition
	ec     *ExecutionContext
	result any
	done   bool
}

// executeFlow runs the flow to a terminal state on the calling goroutine
func (e *Engine) executeFlow(
	run *Run, flow *api.FlowDefinition, ec *ExecutionContext,
) {
	if !run.start() {
		return
	}
	e.runStarted(run)

	x := &flowExec{e: e, run: run, flow: flow, ec: ec}
	res, err := x.execute()
	e.runFinished(run, flowStatus(run, err), res, err)
}

func (x *flowExec) execute() (any, error) {
	if err := x.execSteps(x.flow.Steps); err != nil {
		return nil, err
	}
	if err := x.run.boundary(); err != nil {
		return nil, err
	}
	if x.done {
		return x.result, nil
	}
	if x.flow.Gives == nil {
		return nil, nil
	}
	res, ok := x.ec.Lookup(x.flow.Gives.Name)
	if !ok {
		return nil, &api.UnresolvedVariableError{
			Path: string(x.flow.Gives.Name),
		}
	}
	if err := x.checkGives(res); err != nil {
		return nil, err
	}
	return res, nil
}

func (x *flowExec) execSteps(steps []*api.StepDefinition) error {
	for _, s := range steps {
		if x.done {
			return nil
		}
		if err := x.run.boundary(); err != nil {
			return err
		}
		if err := x.execStep(s); err != nil {
			return err
		}
	}
	return nil
}

func (x *flowExec) execStep(s *api.StepDefinition) error {
	x.run.setCursor(s.Name)
	x.e.publishStep(x.run, api.EventTypeStepStarted, s.Name, nil, 0, nil)

	start := time.Now()
	res, err := x.perform(s)
	if err != nil {
		if passThrough(s, err) {
			return err
		}
		err = &api.StepError{Err: err, Step: s.Name, Kind: s.Kind}
		x.e.publishStep(x.run, api.EventTypeStepFailed, s.Name, nil,
			time.Since(start), err)
		return err
	}

	if s.Output != "" {
		if !s.OutputType.Accepts(res) {
			err := &api.StepError{
				Step: s.Name,
				Kind: s.Kind,
				Err: &api.SchemaMismatchError{
					Field:    string(s.Output),
					Expected: s.OutputType,
					Actual:   api.TypeOf(res),
				},
			}
			x.e.publishStep(x.run, api.EventTypeStepFailed, s.Name, nil,
				time.Since(start), err)
			return err
		}
		if err := x.ec.Bind(s.Output, res); err != nil {
			err = &api.StepError{Err: err, Step: s.Name, Kind: s.Kind}
			x.e.publishStep(x.run, api.EventTypeStepFailed, s.Name, nil,
				time.Since(start), err)
			return err
		}
	}

	x.e.publishStep(x.run, api.EventTypeStepCompleted, s.Name, res,
		time.Since(start), nil)
	return nil
}

func (x *flowExec) checkGives(res any) error {
	g := x.flow.Gives
	if g == nil || g.Type.Accepts(res) {
		return nil
	}
	return &api.SchemaMismatchError{
		Field:    string(g.Name),
		Expected: g.Type,
		Actual:   api.TypeOf(res),
	}
}

// passThrough reports whether an error is returned without being attributed
// to the step: boundary errors, and failures already attributed to a step
// inside a conditional branch
func passThrough(s *api.StepDefinition, err error) bool {
	if errors.Is(err, api.ErrRunCancelled) && !isDelegation(err) {
		return true
	}
	if errors.Is(err, api.ErrRunTimeout) && !isDelegation(err) {
		return true
	}
	_, ok := err.(*api.StepError)
	return ok && s.Kind == api.StepConditional
}

func isDelegation(err error) bool {
	var de *api.DelegationError
	return errors.As(err, &de)
}

// flowStatus maps the outcome of an interpreted run to its terminal status.
// A run that observed cancellation, or whose engine stopped, ends cancelled
// even if a step failed while the request was in flight
func flowStatus(run *Run, err error) api.RunStatus {
	switch {
	case err == nil:
		return api.RunSucceeded
	case run.Cancelled(), errors.Is(run.ctx.Err(), context.Canceled):
		return api.RunCancelled
	case isDelegation(err):
		return api.RunFailed
	case errors.Is(err, api.ErrRunCancelled):
		return api.RunCancelled
	default:
		return api.RunFailed
	}
}
