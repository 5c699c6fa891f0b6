package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kode4food/agentflow/internal/config"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

type (
	// Engine is the flow orchestration runtime. It owns the definition
	// registry, the capability registry it was constructed with, and every
	// run until its retention expires
	Engine struct {
		ctx        context.Context
		cancel     context.CancelFunc
		config     *config.Config
		caps       *Capabilities
		registry   *Registry
		dispatcher *Dispatcher
		mutator    *FeedbackMutator
		lua        *LuaEnv
		hub        *EventHub
		archiver   Archiver
		runs       sync.Map // map[api.RunID]*Run
		wg         sync.WaitGroup
		ownsHub    bool
	}

	// Archiver persists the final state of root runs
	Archiver interface {
		Archive(ctx context.Context, st *api.RunState) error
	}

	// Option configures an Engine
	Option func(*Engine)
)

const archiveTimeout = 5 * time.Second

var (
	ErrShutdownTimeout  = errors.New("shutdown timeout exceeded")
	ErrRunNotFound      = errors.New("run not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNoFeedbackWaiter = errors.New("no step is waiting for feedback")
	ErrEngineStopped    = errors.New("engine stopped")
)

// WithArchiver archives the terminal state of every root run
func WithArchiver(a Archiver) Option {
	return func(e *Engine) {
		e.archiver = a
	}
}

// WithEventHub publishes run events to an externally owned hub
func WithEventHub(h *EventHub) Option {
	return func(e *Engine) {
		e.hub = h
		e.ownsHub = false
	}
}

// New creates an engine that dispatches to the given capabilities
func New(cfg *config.Config, caps *Capabilities, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		caps:     caps,
		registry: NewRegistry(),
		dispatcher: NewDispatcher(
			caps, cfg.Retry, cfg.CallTimeoutDuration(), cfg.RetryJitter,
		),
		mutator: NewFeedbackMutator(caps, cfg.FeedbackMaxAttempts),
		lua:     NewLuaEnv(),
		hub:     NewEventHub(),
		ownsHub: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.wg.Go(e.sweepRuns)
	return e
}

// Stop cancels every live run and waits for them to finish
func (e *Engine) Stop() error {
	e.cancel()
	defer func() {
		if e.ownsHub {
			e.hub.Close()
		}
	}()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Engine stopped")
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Events returns the hub that run events are published to
func (e *Engine) Events() *EventHub {
	return e.hub
}

// Capabilities returns the engine's capability registry
func (e *Engine) Capabilities() *Capabilities {
	return e.caps
}

// LoadDefinitions checks and registers a set of definitions atomically.
// Nothing is registered if any definition fails its load-time checks
func (e *Engine) LoadDefinitions(defs *api.Definitions) error {
	staged, err := e.registry.stage(defs)
	if err != nil {
		return err
	}
	c := &checker{reg: staged, caps: e.caps, lua: e.lua}
	if err := c.checkAll(defs); err != nil {
		return err
	}
	e.registry.commit(staged)

	slog.Info("Definitions loaded",
		slog.Int("flows", len(defs.Flows)),
		slog.Int("workflows", len(defs.Workflows)),
		slog.Int("agents", len(defs.Agents)))
	return nil
}

// RegisterFlow checks and registers a single flow
func (e *Engine) RegisterFlow(f *api.FlowDefinition) error {
	return e.LoadDefinitions(&api.Definitions{
		Flows: []*api.FlowDefinition{f},
	})
}

// RegisterWorkflow checks and registers a single workflow
func (e *Engine) RegisterWorkflow(w *api.WorkflowDefinition) error {
	return e.LoadDefinitions(&api.Definitions{
		Workflows: []*api.WorkflowDefinition{w},
	})
}

// RegisterAgent checks and registers a single agent binding
func (e *Engine) RegisterAgent(a *api.AgentDefinition) error {
	return e.LoadDefinitions(&api.Definitions{
		Agents: []*api.AgentDefinition{a},
	})
}

// GetFlow returns a registered flow
func (e *Engine) GetFlow(id api.FlowID) (*api.FlowDefinition, error) {
	return e.registry.Flow(id)
}

// GetWorkflow returns a registered workflow
func (e *Engine) GetWorkflow(
	id api.WorkflowID,
) (*api.WorkflowDefinition, error) {
	return e.registry.Workflow(id)
}

// ListFlows returns the registered flows ordered by id
func (e *Engine) ListFlows() []*api.FlowDefinition {
	return e.registry.Flows()
}

// ListWorkflows returns the registered workflows ordered by id
func (e *Engine) ListWorkflows() []*api.WorkflowDefinition {
	return e.registry.Workflows()
}

// ListAgents returns the registered agents ordered by id
func (e *Engine) ListAgents() []*api.AgentDefinition {
	return e.registry.Agents()
}

// SubmitFlow starts a run of the flow with the given inputs and returns its
// handle without waiting for it
func (e *Engine) SubmitFlow(
	ctx context.Context, id api.FlowID, inputs api.Args,
) (*Run, error) {
	if err := e.accepting(ctx); err != nil {
		return nil, err
	}
	flow, err := e.registry.Flow(id)
	if err != nil {
		return nil, err
	}
	if err := checkParams(flow.Params, inputs, ""); err != nil {
		return nil, err
	}

	run := newRun(e.ctx, newRunID(), api.RunKindFlow, string(id), inputs,
		e.flowTimeout(flow))
	e.runs.Store(run.id, run)

	e.wg.Go(func() {
		e.executeFlow(run, flow, Child(flow.Params, inputs))
	})
	return run, nil
}

// SubmitWorkflow starts a fan-out run over items with the shared inputs.
// When items is nil the collection is taken from the shared input named by
// the workflow. An empty policy falls back to the workflow's policy, then to
// the configured default
func (e *Engine) SubmitWorkflow(
	ctx context.Context, id api.WorkflowID, items []any, shared api.Args,
	policy api.FailurePolicy,
) (*Run, error) {
	if err := e.accepting(ctx); err != nil {
		return nil, err
	}
	wf, err := e.registry.Workflow(id)
	if err != nil {
		return nil, err
	}
	if !policy.IsValid() {
		return nil, fmt.Errorf("%w: %s", api.ErrInvalidFailurePolicy, policy)
	}
	items, err = collection(wf, items, shared)
	if err != nil {
		return nil, err
	}
	if err := checkParams(wf.Params, shared, wf.Over); err != nil {
		return nil, err
	}
	policy = e.resolvePolicy(wf, policy)

	run := newRun(e.ctx, newRunID(), api.RunKindWorkflow, string(id),
		shared, e.workflowTimeout(wf))
	e.runs.Store(run.id, run)

	e.wg.Go(func() {
		e.executeWorkflow(run, wf, items, shared, policy)
	})
	return run, nil
}

// GetStatus returns a snapshot of a run
func (e *Engine) GetStatus(id api.RunID) (*api.RunState, error) {
	run, err := e.getRun(id)
	if err != nil {
		return nil, err
	}
	return run.State(), nil
}

// Cancel requests cooperative cancellation of a run and its nested runs
func (e *Engine) Cancel(id api.RunID) error {
	run, err := e.getRun(id)
	if err != nil {
		return err
	}
	run.Cancel()
	slog.Info("Run cancellation requested", log.RunID(id))
	return nil
}

// Wait blocks until a run is terminal or ctx is done
func (e *Engine) Wait(
	ctx context.Context, id api.RunID,
) (*api.RunState, error) {
	run, err := e.getRun(id)
	if err != nil {
		return nil, err
	}
	return run.Wait(ctx)
}

// ListRuns returns snapshots of the root runs known to the engine, oldest
// first
func (e *Engine) ListRuns() []*api.RunState {
	var res []*api.RunState
	e.runs.Range(func(_, v any) bool {
		if st := v.(*Run).State(); st.Parent == "" {
			res = append(res, st)
		}
		return true
	})
	slices.SortFunc(res, func(l, r *api.RunState) int {
		if c := l.CreatedAt.Compare(r.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(l.ID), string(r.ID))
	})
	return res
}

// ActiveRuns returns the number of runs that are not yet terminal
func (e *Engine) ActiveRuns() int {
	var res int
	e.runs.Range(func(_, v any) bool {
		if !v.(*Run).Status().IsTerminal() {
			res++
		}
		return true
	})
	return res
}

// ApplyFeedback merges an example update into the named example store
func (e *Engine) ApplyFeedback(
	ctx context.Context, store, key string, upd *api.ExampleUpdate,
) (*api.ExampleRecord, error) {
	return e.mutator.Apply(ctx, store, key, upd)
}

// ReadExamples returns the current example record and version for key
func (e *Engine) ReadExamples(
	ctx context.Context, store, key string,
) (*api.ExampleRecord, int64, error) {
	examples, err := e.caps.ExampleStore(store)
	if err != nil {
		return nil, 0, err
	}
	return examples.Read(ctx, key)
}

// DeliverFeedback hands a human feedback payload to the ui_feedback step
// waiting in the given run
func (e *Engine) DeliverFeedback(id api.RunID, step string, payload any) error {
	if _, err := e.getRun(id); err != nil {
		return err
	}
	for _, r := range e.caps.receivers() {
		if r.Deliver(id, step, payload) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNoFeedbackWaiter, id)
}

func (e *Engine) accepting(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.ctx.Err() != nil {
		return ErrEngineStopped
	}
	return nil
}

func (e *Engine) getRun(id api.RunID) (*Run, error) {
	if v, ok := e.runs.Load(id); ok {
		return v.(*Run), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
}

func (e *Engine) resolvePolicy(
	wf *api.WorkflowDefinition, policy api.FailurePolicy,
) api.FailurePolicy {
	switch {
	case policy != "":
		return policy
	case wf.Policy != "":
		return wf.Policy
	case e.config.FailurePolicy != "":
		return e.config.FailurePolicy
	default:
		return api.PolicyFailFast
	}
}

func (e *Engine) flowTimeout(f *api.FlowDefinition) time.Duration {
	if f.TimeoutMs > 0 {
		return time.Duration(f.TimeoutMs) * time.Millisecond
	}
	return e.config.RunTimeoutDuration()
}

func (e *Engine) workflowTimeout(w *api.WorkflowDefinition) time.Duration {
	if w.TimeoutMs > 0 {
		return time.Duration(w.TimeoutMs) * time.Millisecond
	}
	return e.config.RunTimeoutDuration()
}

func (e *Engine) runStarted(run *Run) {
	activeRuns.Inc()
	e.hub.Publish(&api.RunEvent{
		Type:   api.EventTypeRunStarted,
		RunID:  run.id,
		Parent: run.parent,
		Target: run.target,
		Data:   run.inputs,
	})
	slog.Debug("Run started",
		log.RunID(run.id),
		slog.String("kind", string(run.kind)),
		slog.String("target", run.target))
}

func (e *Engine) runFinished(
	run *Run, status api.RunStatus, res any, err error,
) {
	if !run.finish(status, res, err) {
		return
	}
	activeRuns.Dec()
	runsTotal.WithLabelValues(string(run.kind), string(status)).Inc()

	st := run.State()
	e.hub.Publish(&api.RunEvent{
		Type:     api.TerminalEventType(status),
		RunID:    run.id,
		Parent:   run.parent,
		Target:   run.target,
		Data:     res,
		Error:    st.Error,
		Duration: st.CompletedAt.Sub(st.CreatedAt).Milliseconds(),
	})

	attrs := []any{
		log.RunID(run.id),
		slog.String("kind", string(run.kind)),
		slog.String("target", run.target),
		log.Status(status),
	}
	if err != nil {
		attrs = append(attrs, log.Error(err))
	}
	switch status {
	case api.RunFailed:
		slog.Warn("Run failed", attrs...)
	default:
		slog.Info("Run finished", attrs...)
	}

	if e.archiver != nil && run.parent == "" {
		e.archive(st)
	}
}

func (e *Engine) archive(st *api.RunState) {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := e.archiver.Archive(ctx, st); err != nil {
		slog.Error("Failed to archive run",
			log.RunID(st.ID),
			log.Error(err))
	}
}

func (e *Engine) publishStep(
	run *Run, typ api.EventType, step string, data any, dur time.Duration,
	err error,
) {
	e.hub.Publish(&api.RunEvent{
		Type:     typ,
		RunID:    run.id,
		Parent:   run.parent,
		Target:   run.target,
		Step:     step,
		Data:     data,
		Error:    api.NewRunError(err),
		Duration: dur.Milliseconds(),
	})
}

// checkParams validates submitted inputs against declared parameters. The
// name in skip is not required
func checkParams(params []api.Param, inputs api.Args, skip api.Name) error {
	for _, p := range params {
		v, ok := inputs[p.Name]
		if !ok {
			if !p.Optional && p.Name != skip {
				return fmt.Errorf("%w: %s: %w",
					ErrInvalidInput, p.Name, ErrMissingInput)
			}
			continue
		}
		if !p.Type.Accepts(v) {
			return fmt.Errorf("%w: %s expects %s, got %s",
				ErrInvalidInput, p.Name, p.Type, api.TypeOf(v))
		}
	}
	return nil
}

func newRunID() api.RunID {
	return api.RunID(uuid.New().String())
}
