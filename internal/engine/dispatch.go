package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

type (
	// Dispatcher routes a step to the capability implementing its kind,
	// applying the call timeout and the retry policy
	Dispatcher struct {
		caps        *Capabilities
		retry       api.RetryConfig
		callTimeout time.Duration
		jitter      int
		sleep       func(context.Context, time.Duration) error
	}

	// Request carries the resolved parameters of one dispatch
	Request struct {
		Step     *api.StepDefinition
		Params   api.Args
		Examples []api.Example
		RunID    api.RunID
	}

	// Canceller reports whether the owning run has been asked to stop
	Canceller interface {
		Cancelled() bool
	}
)

const (
	outcomeSuccess = "success"
	outcomeRetry   = "retry"
	outcomeFailure = "failure"
)

var (
	ErrCallTimeout       = errors.New("call timed out")
	ErrNotDispatchable   = errors.New("step kind is not dispatchable")
	ErrInvalidPayload    = errors.New("invalid payload")
	ErrMissingResponse   = errors.New("response not an object")
	ErrInvalidPromptList = errors.New("invalid prompt list")
)

// NewDispatcher creates a Dispatcher over the given capabilities
func NewDispatcher(
	caps *Capabilities, retry api.RetryConfig, callTimeout time.Duration,
	jitter int,
) *Dispatcher {
	return &Dispatcher{
		caps:        caps,
		retry:       retry,
		callTimeout: callTimeout,
		jitter:      jitter,
		sleep:       sleepContext,
	}
}

// Dispatch performs the request against its capability. Remote calls and
// model calls are retried while their errors are retryable, the attempt
// budget lasts, and the run has not been cancelled. Every attempt is logged
func (d *Dispatcher) Dispatch(
	ctx context.Context, run Canceller, req *Request,
) (any, error) {
	step := req.Step
	policy := d.policyFor(step)
	attempts := 1
	if step.Kind.IsRetryable() {
		attempts = max(1, policy.MaxAttempts)
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var res any
		res, err = d.attempt(ctx, req, attempt)
		if err == nil {
			return res, nil
		}
		if !api.IsRetryable(err) || attempt == attempts || run.Cancelled() {
			break
		}
		if serr := d.sleep(ctx, policy.delay(attempt-1)); serr != nil {
			break
		}
	}
	return nil, withAttempts(err, attempts)
}

func (d *Dispatcher) attempt(
	ctx context.Context, req *Request, attempt int,
) (any, error) {
	step := req.Step
	start := time.Now()

	ctx, span := tracer.Start(ctx, "dispatch "+string(step.Kind),
		trace.WithAttributes(
			attribute.String("agentflow.run_id", string(req.RunID)),
			attribute.String("agentflow.step", step.Name),
			attribute.String("agentflow.capability", step.Capability),
			attribute.Int("agentflow.attempt", attempt),
		),
	)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(step))
	res, err := d.invoke(callCtx, req)
	if err == nil {
		err = checkResponse(step, res)
	}
	err = classify(step, callCtx, err)
	cancel()

	dur := time.Since(start)
	outcome := outcomeSuccess
	switch {
	case err == nil:
	case api.IsRetryable(err):
		outcome = outcomeRetry
	default:
		outcome = outcomeFailure
	}

	dispatchTotal.WithLabelValues(
		string(step.Kind), step.Capability, outcome,
	).Inc()
	dispatchDuration.WithLabelValues(
		string(step.Kind), step.Capability,
	).Observe(dur.Seconds())

	attrs := []any{
		log.RunID(req.RunID),
		log.StepName(step.Name),
		log.Capability(step.Capability),
		slog.String("kind", string(step.Kind)),
		slog.Int("attempt", attempt),
		log.Duration(dur),
		slog.String("outcome", outcome),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Dispatch failed", append(attrs, log.Error(err))...)
		return nil, err
	}
	slog.Info("Dispatch completed", attrs...)
	return res, nil
}

func (d *Dispatcher) invoke(ctx context.Context, req *Request) (any, error) {
	step := req.Step
	p := req.Params
	switch step.Kind {
	case api.StepPromptSource:
		src, err := d.caps.PromptSource(step.Capability)
		if err != nil {
			return nil, err
		}
		prompts, err := src.Load(ctx, paramString(p, api.ParamQuery))
		if err != nil {
			return nil, err
		}
		return prompts, nil

	case api.StepMemory:
		mem, err := d.caps.MemoryStore(step.Capability)
		if err != nil {
			return nil, err
		}
		key := paramString(p, api.ParamKey)
		if step.MemoryOp() == api.MemoryOpPut {
			val := p[api.ParamValue]
			return val, mem.Put(ctx, key, val)
		}
		val, ok, err := mem.Get(ctx, key)
		if err != nil || !ok {
			return nil, err
		}
		return val, nil

	case api.StepStore:
		mem, err := d.caps.MemoryStore(step.Capability)
		if err != nil {
			return nil, err
		}
		val := p[api.ParamValue]
		return val, mem.Put(ctx, paramString(p, api.ParamKey), val)

	case api.StepRemoteCall:
		ep, err := d.caps.RemoteEndpoint(step.Capability)
		if err != nil {
			return nil, err
		}
		payload, err := remotePayload(p)
		if err != nil {
			return nil, err
		}
		res, err := ep.Call(ctx, payload)
		if err != nil {
			return nil, err
		}
		return res, nil

	case api.StepResourceFetch:
		loader, err := d.caps.ResourceLoader(step.Capability)
		if err != nil {
			return nil, err
		}
		return loader.Fetch(ctx, paramString(p, api.ParamLocator))

	case api.StepAskModel:
		asker, err := d.caps.ModelAsker(step.Capability)
		if err != nil {
			return nil, err
		}
		inputs, _ := toArgs(p[api.ParamInputs])
		return asker.Ask(
			ctx, paramString(p, api.ParamGuide), req.Examples, inputs,
		)

	case api.StepUIFeedback:
		ui, err := d.caps.UIFeedback(step.Capability)
		if err != nil {
			return nil, err
		}
		fbCtx, _ := toArgs(p[api.ParamContext])
		payload, ok, err := ui.Request(ctx, &api.FeedbackRequest{
			RunID:   req.RunID,
			Step:    step.Name,
			Context: fbCtx.ToMap(),
		})
		if err != nil || !ok {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrNotDispatchable, step.Kind)
	}
}

func (d *Dispatcher) policyFor(step *api.StepDefinition) retryPolicy {
	return retryPolicy{
		RetryConfig: resolveRetryConfig(d.retry, step.Retry),
		jitter:      d.jitter,
	}
}

func (d *Dispatcher) timeoutFor(step *api.StepDefinition) time.Duration {
	if step.TimeoutMs > 0 {
		return time.Duration(step.TimeoutMs) * time.Millisecond
	}
	return d.callTimeout
}

// classify maps a raw capability error onto the error taxonomy. Errors that
// are already classified pass through; a call that hit its deadline is
// retryable; anything else is a non-retryable external call failure
func classify(
	step *api.StepDefinition, callCtx context.Context, err error,
) error {
	if err == nil {
		return nil
	}

	var (
		external   *api.ExternalCallError
		schema     *api.SchemaMismatchError
		unresolved *api.UnresolvedVariableError
	)
	switch {
	case errors.As(err, &external):
		if external.Capability == "" {
			external.Capability = step.Capability
		}
		return err
	case errors.As(err, &schema), errors.As(err, &unresolved):
		return err
	case errors.Is(err, ErrCapabilityNotFound),
		errors.Is(err, ErrCapabilityName):
		return err
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return &api.ExternalCallError{
			Capability: step.Capability,
			Retryable:  true,
			Err:        fmt.Errorf("%w: %w", ErrCallTimeout, err),
		}
	default:
		return &api.ExternalCallError{
			Capability: step.Capability,
			Err:        err,
		}
	}
}

func withAttempts(err error, attempts int) error {
	var external *api.ExternalCallError
	if attempts > 1 && errors.As(err, &external) {
		external.Attempts = attempts
	}
	return err
}

// checkResponse validates a remote call response against the declared
// response fields. Paths use gjson syntax
func checkResponse(step *api.StepDefinition, res any) error {
	if step.Kind != api.StepRemoteCall || len(step.Response) == 0 {
		return nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return &api.SchemaMismatchError{
			Expected: api.TypeDict, Actual: api.TypeOf(res),
		}
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return &api.SchemaMismatchError{
			Expected: api.TypeDict, Actual: api.TypeOf(res),
		}
	}
	for _, field := range slices.Sorted(maps.Keys(step.Response)) {
		expected := step.Response[field]
		r := gjson.GetBytes(data, field)
		if !r.Exists() {
			return &api.SchemaMismatchError{
				Field: field, Expected: expected, Actual: "missing",
			}
		}
		if actual := gjsonType(r); !expected.IsAny() && actual != expected {
			return &api.SchemaMismatchError{
				Field: field, Expected: expected, Actual: actual,
			}
		}
	}
	return nil
}

func gjsonType(r gjson.Result) api.TypeName {
	switch r.Type {
	case gjson.String:
		return api.TypeString
	case gjson.Number:
		return api.TypeNumber
	case gjson.True, gjson.False:
		return api.TypeBoolean
	case gjson.Null:
		return "null"
	default:
		if r.IsArray() {
			return api.TypeList
		}
		return api.TypeDict
	}
}

func remotePayload(p api.Args) (api.Args, error) {
	raw, ok := p[api.ParamPayload]
	if !ok {
		return p, nil
	}
	res, ok := toArgs(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidPayload, raw)
	}
	return res, nil
}

func toArgs(v any) (api.Args, bool) {
	switch v := v.(type) {
	case api.Args:
		return v, true
	case map[string]any:
		return api.ArgsFromMap(v), true
	case map[api.Name]any:
		return api.Args(v), true
	case nil:
		return api.Args{}, true
	default:
		return api.Args{}, false
	}
}

// paramString returns the string form of a resolved parameter, so that keys
// and locators built from typed values still address the same entry
func paramString(p api.Args, name api.Name) string {
	v, ok := p[name]
	if !ok {
		return ""
	}
	s, err := binding.Stringify(v)
	if err != nil {
		return ""
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
