package engine

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

const (
	levelWarn  = "warn"
	levelError = "error"
	levelDebug = "debug"

	loaderSuffix = ".loader"
	guideJoiner  = "\n\n"
)

// perform executes one step and returns the value its output binds to
func (x *flowExec) perform(s *api.StepDefinition) (any, error) {
	switch s.Kind {
	case api.StepConditional:
		return nil, x.execConditional(s)
	case api.StepAssignment:
		return binding.ResolveValue(s.Params[api.ParamValue], x.ec)
	case api.StepTerminal:
		return x.execTerminal(s)
	case api.StepEmit:
		return x.execEmit(s)
	case api.StepDelegate:
		return x.e.delegate(x.run, s, x.ec)
	case api.StepApplyFeedback:
		return x.execApplyFeedback(s)
	case api.StepAskModel:
		return x.execAskModel(s)
	default:
		params, err := resolveParams(s, x.ec)
		if err != nil {
			return nil, err
		}
		return x.dispatch(s, params, nil)
	}
}

func (x *flowExec) dispatch(
	s *api.StepDefinition, params api.Args, examples []api.Example,
) (any, error) {
	return x.e.dispatcher.Dispatch(x.run.ctx, x.run, &Request{
		Step:     s,
		Params:   params,
		Examples: examples,
		RunID:    x.run.id,
	})
}

func resolveParams(
	s *api.StepDefinition, ec *ExecutionContext,
) (api.Args, error) {
	res, err := binding.ResolveValue(s.Params, ec)
	if err != nil {
		return nil, err
	}
	m, _ := res.(map[string]any)
	return api.ArgsFromMap(m), nil
}

func (x *flowExec) execConditional(s *api.StepDefinition) error {
	ok, err := x.e.evaluateCondition(s.When, x.ec)
	if err != nil {
		return err
	}
	if ok {
		return x.execSteps(s.Then)
	}
	return x.execSteps(s.Else)
}

func (x *flowExec) execTerminal(s *api.StepDefinition) (any, error) {
	var res any
	if raw, ok := s.Params[api.ParamValue]; ok {
		v, err := binding.ResolveValue(raw, x.ec)
		if err != nil {
			return nil, err
		}
		res = v
	} else if g := x.flow.Gives; g != nil {
		v, ok := x.ec.Lookup(g.Name)
		if !ok {
			return nil, &api.UnresolvedVariableError{Path: string(g.Name)}
		}
		res = v
	}
	if err := x.checkGives(res); err != nil {
		return nil, err
	}
	x.result = res
	x.done = true
	return res, nil
}

func (x *flowExec) execEmit(s *api.StepDefinition) (any, error) {
	raw, err := binding.ResolveValue(s.Params[api.ParamMessage], x.ec)
	if err != nil {
		return nil, err
	}
	msg, err := binding.Stringify(raw)
	if err != nil {
		return nil, err
	}

	attrs := []any{
		log.RunID(x.run.id),
		log.FlowID(x.flow.ID),
		log.StepName(s.Name),
	}
	level, _ := s.Params[api.ParamLevel].(string)
	switch strings.ToLower(level) {
	case levelWarn:
		slog.Warn(msg, attrs...)
	case levelError:
		slog.Error(msg, attrs...)
	case levelDebug:
		slog.Debug(msg, attrs...)
	default:
		slog.Info(msg, attrs...)
	}
	return msg, nil
}

func (x *flowExec) execApplyFeedback(s *api.StepDefinition) (any, error) {
	params, err := resolveParams(s, x.ec)
	if err != nil {
		return nil, err
	}
	raw := params[api.ParamUpdate]
	if raw == nil {
		return nil, nil
	}
	upd, err := api.ParseExampleUpdate(raw)
	if err != nil {
		return nil, err
	}
	key := paramString(params, api.ParamKey)
	rec, err := x.e.mutator.Apply(x.run.ctx, s.Capability, key, upd)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key":     rec.Key,
		"version": rec.Version,
	}, nil
}

// execAskModel augments the guide with prompts from an optional loader and
// the step's examples with those held in an optional example store
func (x *flowExec) execAskModel(s *api.StepDefinition) (any, error) {
	params, err := resolveParams(s, x.ec)
	if err != nil {
		return nil, err
	}

	if loader, ok := params[api.ParamLoader].(string); ok && loader != "" {
		prompts, err := x.loadPrompts(s, loader, params)
		if err != nil {
			return nil, err
		}
		if len(prompts) > 0 {
			guide := paramString(params, api.ParamGuide)
			params = params.Set(api.ParamGuide,
				guide+guideJoiner+strings.Join(prompts, "\n"))
		}
	}

	examples := append([]api.Example(nil), s.Examples...)
	if from, ok := params[api.ParamExamplesFrom]; ok {
		more, err := x.storedExamples(from)
		if err != nil {
			return nil, err
		}
		examples = append(examples, more...)
	}
	return x.dispatch(s, params, examples)
}

func (x *flowExec) loadPrompts(
	s *api.StepDefinition, loader string, params api.Args,
) ([]string, error) {
	query := params.GetString(api.ParamLoaderQuery,
		paramString(params, api.ParamGuide))
	ls := &api.StepDefinition{
		Name:       s.Name + loaderSuffix,
		Kind:       api.StepPromptSource,
		Capability: loader,
	}
	res, err := x.dispatch(ls, api.Args{api.ParamQuery: query}, nil)
	if err != nil {
		return nil, err
	}
	prompts, _ := res.([]string)
	return prompts, nil
}

func (x *flowExec) storedExamples(from any) ([]api.Example, error) {
	args, ok := toArgs(from)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrInvalidExamples, from)
	}
	store := paramString(args, api.ParamStore)
	key := paramString(args, api.ParamKey)
	examples, err := x.e.caps.ExampleStore(store)
	if err != nil {
		return nil, err
	}
	rec, _, err := examples.Read(x.run.ctx, key)
	if err != nil {
		return nil, &api.ExternalCallError{Capability: store, Err: err}
	}
	if section := paramString(args, api.ParamSection); section != "" {
		return rec.Section(section), nil
	}
	return rec.Examples(), nil
}
