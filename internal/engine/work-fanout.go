package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

// fanOut runs one workflow: a flow invocation per element, joined in input
// order
type fanOut struct {
	e      *Engine
	run    *Run
	wf     *api.WorkflowDefinition
	flow   *api.FlowDefinition
	shared api.Args
	policy api.FailurePolicy
}

const elementIDKey = "id"

var (
	ErrInvalidCollection = errors.New("workflow collection is not a list")
)

// executeWorkflow runs the workflow to a terminal state on the calling
// goroutine
func (e *Engine) executeWorkflow(
	run *Run, wf *api.WorkflowDefinition, items []any, shared api.Args,
	policy api.FailurePolicy,
) {
	if !run.start() {
		return
	}
	e.runStarted(run)

	flow, err := e.registry.Target(wf.Invoke.Target)
	if err != nil {
		e.runFinished(run, api.RunFailed, nil, err)
		return
	}

	f := &fanOut{
		e:      e,
		run:    run,
		wf:     wf,
		flow:   flow,
		shared: shared,
		policy: policy,
	}
	status, res, err := f.execute(items)
	e.runFinished(run, status, res, err)
}

func (f *fanOut) execute(items []any) (api.RunStatus, any, error) {
	outcomes := make([]*api.ElementOutcome, len(items))
	for i, item := range items {
		outcomes[i] = &api.ElementOutcome{
			Index:   i,
			Element: item,
			ID:      elementID(item, i),
			Status:  api.RunPending,
		}
	}

	var (
		g       errgroup.Group
		tripped atomic.Bool
	)
	if limit := f.parallelism(len(items)); limit > 0 {
		g.SetLimit(limit)
	}

	failFast := f.policy != api.PolicyBestEffort
	for i, item := range items {
		out := outcomes[i]
		g.Go(func() error {
			if f.run.Cancelled() || (failFast && tripped.Load()) {
				out.Status = api.RunCancelled
				return nil
			}
			f.runElement(out, i, item, failFast, &tripped)
			if failFast && out.Status == api.RunFailed &&
				tripped.CompareAndSwap(false, true) {
				slog.Info("Fan-out tripped",
					log.RunID(f.run.id),
					slog.String("element", out.ID))
				f.run.cancelChildren()
			}
			return nil
		})
	}
	_ = g.Wait()
	f.run.setOutcomes(outcomes)

	results := make([]any, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.Result
	}
	res := map[string]any{string(f.wf.GivesName()): results}

	if err := f.run.boundary(); err != nil && f.run.Cancelled() {
		return api.RunCancelled, nil, err
	}

	if !failFast {
		if len(api.FailedIDs(outcomes)) > 0 {
			return api.RunSucceeded, res, &api.PartialFailure{
				Outcomes: outcomes,
			}
		}
		return api.RunSucceeded, res, nil
	}

	var failures []*api.ElementOutcome
	for _, o := range outcomes {
		if o.Status == api.RunFailed {
			failures = append(failures, o)
		}
	}
	if len(failures) > 0 {
		return api.RunFailed, nil, &api.FanOutError{Failures: failures}
	}
	if err := f.run.boundary(); err != nil {
		return api.RunFailed, nil, err
	}
	return api.RunSucceeded, res, nil
}

func (f *fanOut) runElement(
	out *api.ElementOutcome, idx int, item any, failFast bool,
	tripped *atomic.Bool,
) {
	inputs, err := f.elementInputs(item)
	if err != nil {
		out.Status = api.RunFailed
		out.Error = api.NewRunError(err)
		return
	}

	child := f.e.newChildRun(
		f.run, childRunID(f.run.id, strconv.Itoa(idx)), f.wf.Invoke.Target,
		inputs, f.e.flowTimeout(f.flow),
	)
	out.RunID = child.id
	if failFast && tripped.Load() {
		child.Cancel()
	}

	f.e.executeFlow(child, f.flow, Child(f.flow.Params, inputs))

	st := child.State()
	out.Status = st.Status
	out.Result = st.Result
	out.Error = st.Error
}

// elementInputs builds the isolated inputs of one element: the shared
// inputs plus the element under the workflow's item name, mapped through
// the invocation's input templates when it declares any
func (f *fanOut) elementInputs(item any) (api.Args, error) {
	scope := f.shared.Set(f.wf.Item, item)
	if len(f.wf.Invoke.Inputs) == 0 {
		return scope, nil
	}
	res, err := binding.ResolveValue(f.wf.Invoke.Inputs, binding.Vars(scope))
	if err != nil {
		return nil, err
	}
	m, _ := res.(map[string]any)
	return api.ArgsFromMap(m), nil
}

func (f *fanOut) parallelism(n int) int {
	switch {
	case f.wf.Parallelism > 0:
		return f.wf.Parallelism
	case f.e.config.FanOutParallelism > 0:
		return f.e.config.FanOutParallelism
	default:
		return n
	}
}

// elementID names an element in outcomes and errors: scalars by their own
// value, mappings by their "id" entry, anything else by position
func elementID(item any, idx int) string {
	switch v := item.(type) {
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	case map[string]any:
		if id, ok := v[elementIDKey]; ok {
			return fmt.Sprint(id)
		}
	case api.Args:
		if id, ok := v[elementIDKey]; ok {
			return fmt.Sprint(id)
		}
	}
	return strconv.Itoa(idx)
}

// collection returns the items of a workflow submission. Explicit items win;
// otherwise the shared input named by the workflow's collection is used
func collection(
	wf *api.WorkflowDefinition, items []any, shared api.Args,
) ([]any, error) {
	if items != nil {
		return items, nil
	}
	raw, ok := shared[wf.Over]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCollection, wf.Over)
	}
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		res := make([]any, len(v))
		for i, s := range v {
			res[i] = s
		}
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidCollection, wf.Over)
	}
}
