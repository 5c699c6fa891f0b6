package engine

import (
	"errors"
	"fmt"

	"github.com/kode4food/agentflow/internal/engine/binding"
	"github.com/kode4food/agentflow/internal/util"
	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// checker validates definitions against a staged registry and the
	// registered capabilities before they are committed
	checker struct {
		reg  *Registry
		caps *Capabilities
		lua  *LuaEnv
	}

	// bindings tracks the names a step path has bound so far. Names bound
	// on only one side of a conditional are maybe-bound: they may be read,
	// but never bound again
	bindings struct {
		bound util.Set[api.Name]
		maybe util.Set[api.Name]
		types map[api.Name]api.TypeName
	}
)

var (
	ErrUnboundReference = errors.New("reference to unbound name")
	ErrUndeclaredInput  = errors.New("input not declared by target")
	ErrMissingInput     = errors.New("required input missing")
	ErrTypeConflict     = errors.New("type conflict")
	ErrGivesUnbound     = errors.New("flow output never bound")
	ErrInvalidScript    = errors.New("invalid condition script")
	ErrInvalidLoader    = errors.New("invalid loader")
	ErrInvalidExamples  = errors.New("invalid examples_from")
)

func (c *checker) checkAll(defs *api.Definitions) error {
	for _, a := range defs.Agents {
		if err := c.checkAgent(a); err != nil {
			return err
		}
	}
	for _, f := range defs.Flows {
		if err := c.checkFlow(f); err != nil {
			return err
		}
	}
	for _, w := range defs.Workflows {
		if err := c.checkWorkflow(w); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkAgent(a *api.AgentDefinition) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if _, ok := c.reg.flows[a.Flow]; !ok {
		return fmt.Errorf("agent %s: %w: %s", a.ID, ErrFlowNotFound, a.Flow)
	}
	return nil
}

func (c *checker) checkFlow(f *api.FlowDefinition) error {
	if err := f.Validate(); err != nil {
		return err
	}

	b := &bindings{
		bound: util.Set[api.Name]{},
		maybe: util.Set[api.Name]{},
		types: map[api.Name]api.TypeName{},
	}
	for _, p := range f.Params {
		b.bound.Add(p.Name)
		b.types[p.Name] = p.Type
	}

	if err := c.checkSteps(f.Steps, b); err != nil {
		return fmt.Errorf("flow %s: %w", f.ID, err)
	}

	if f.Gives == nil || hasTerminalValue(f) {
		return nil
	}
	if !b.bound.Contains(f.Gives.Name) && !b.maybe.Contains(f.Gives.Name) {
		return fmt.Errorf("flow %s: %w: %s", f.ID, ErrGivesUnbound, f.Gives.Name)
	}
	if t, ok := b.types[f.Gives.Name]; ok && !f.Gives.Type.Compatible(t) {
		return fmt.Errorf("flow %s: %w: %s is %s, gives %s",
			f.ID, ErrTypeConflict, f.Gives.Name, t, f.Gives.Type)
	}
	return nil
}

func (c *checker) checkSteps(steps []*api.StepDefinition, b *bindings) error {
	for _, s := range steps {
		if err := c.checkStep(s, b); err != nil {
			return err
		}
	}
	return nil
}

func (c *checker) checkStep(s *api.StepDefinition, b *bindings) error {
	if s.Kind.UsesCapability() && !c.caps.Has(s.Kind, s.Capability) {
		return stepErr(s, ErrCapabilityNotFound, s.Capability)
	}
	if err := c.checkReferences(s, b); err != nil {
		return err
	}

	switch s.Kind {
	case api.StepConditional:
		return c.checkConditional(s, b)
	case api.StepDelegate:
		if err := c.checkDelegate(s, b); err != nil {
			return err
		}
	case api.StepAskModel:
		if err := c.checkAskModel(s); err != nil {
			return err
		}
	}

	if s.Output == "" {
		return nil
	}
	if b.bound.Contains(s.Output) || b.maybe.Contains(s.Output) {
		return stepErr(s, api.ErrRebind, string(s.Output))
	}
	b.bound.Add(s.Output)
	if s.OutputType != "" {
		b.types[s.Output] = s.OutputType
	}
	return nil
}

func (c *checker) checkReferences(s *api.StepDefinition, b *bindings) error {
	paths, err := binding.References(s.Params)
	if err != nil {
		return stepErr(s, err, "")
	}
	if s.When != nil {
		more, err := binding.References(s.When.Value)
		if err != nil {
			return stepErr(s, err, "")
		}
		paths = append(paths, more...)
		for _, n := range s.When.Args {
			paths = append(paths, string(n))
		}
	}
	for _, p := range paths {
		root := api.Name(binding.Root(p))
		if !b.bound.Contains(root) && !b.maybe.Contains(root) {
			return stepErr(s, ErrUnboundReference, p)
		}
	}
	return nil
}

func (c *checker) checkConditional(s *api.StepDefinition, b *bindings) error {
	if s.When.Script != "" {
		if _, err := c.lua.Compile(s.When.Script, s.When.Args); err != nil {
			return stepErr(s, ErrInvalidScript, err.Error())
		}
	}

	then := b.clone()
	if err := c.checkSteps(s.Then, then); err != nil {
		return err
	}
	els := b.clone()
	if err := c.checkSteps(s.Else, els); err != nil {
		return err
	}

	for n := range then.bound {
		if b.bound.Contains(n) {
			continue
		}
		if els.bound.Contains(n) {
			b.bound.Add(n)
		} else {
			b.maybe.Add(n)
		}
	}
	for n := range els.bound {
		if !b.bound.Contains(n) {
			b.maybe.Add(n)
		}
	}
	for _, side := range []*bindings{then, els} {
		for n := range side.maybe {
			if !b.bound.Contains(n) {
				b.maybe.Add(n)
			}
		}
		for n, t := range side.types {
			if _, ok := b.types[n]; !ok {
				b.types[n] = t
			}
		}
	}
	return nil
}

func (c *checker) checkDelegate(s *api.StepDefinition, b *bindings) error {
	target, err := c.reg.target(s.Target)
	if err != nil {
		return stepErr(s, err, "")
	}
	return checkInputs(s, target, s.Params, b.types)
}

func (c *checker) checkAskModel(s *api.StepDefinition) error {
	if raw, ok := s.Params[api.ParamLoader]; ok {
		name, ok := raw.(string)
		if !ok || !c.caps.Has(api.StepPromptSource, name) {
			return stepErr(s, ErrInvalidLoader, fmt.Sprint(raw))
		}
	}
	if raw, ok := s.Params[api.ParamExamplesFrom]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return stepErr(s, ErrInvalidExamples, fmt.Sprint(raw))
		}
		name, _ := m[api.ParamStore].(string)
		if !c.caps.Has(api.StepApplyFeedback, name) {
			return stepErr(s, ErrInvalidExamples, name)
		}
		if _, ok := m[api.ParamKey]; !ok {
			return stepErr(s, ErrInvalidExamples, api.ParamKey)
		}
		if raw, ok := m[api.ParamSection]; ok {
			if sec, ok := raw.(string); !ok || sec == "" {
				return stepErr(s, ErrInvalidExamples, api.ParamSection)
			}
		}
	}
	return nil
}

func (c *checker) checkWorkflow(w *api.WorkflowDefinition) error {
	if err := w.Validate(); err != nil {
		return err
	}
	target, err := c.reg.target(w.Invoke.Target)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	if len(w.Invoke.Inputs) == 0 {
		return nil
	}

	if len(w.Params) > 0 {
		scope := util.SetOf(w.Item, w.Over)
		for _, p := range w.Params {
			scope.Add(p.Name)
		}
		paths, err := binding.References(w.Invoke.Inputs)
		if err != nil {
			return fmt.Errorf("workflow %s: %w", w.ID, err)
		}
		for _, p := range paths {
			if !scope.Contains(api.Name(binding.Root(p))) {
				return fmt.Errorf("workflow %s: %w: %s",
					w.ID, ErrUnboundReference, p)
			}
		}
	}

	types := map[api.Name]api.TypeName{}
	for _, p := range w.Params {
		types[p.Name] = p.Type
	}
	step := &api.StepDefinition{Name: "invoke", Kind: api.StepDelegate}
	if err := checkInputs(step, target, w.Invoke.Inputs, types); err != nil {
		return fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	return nil
}

// checkInputs validates explicit inputs passed to a target flow against its
// declared parameters
func checkInputs(
	s *api.StepDefinition, target *api.FlowDefinition,
	inputs map[string]any, types map[api.Name]api.TypeName,
) error {
	if len(target.Params) == 0 {
		return nil
	}
	for name, value := range inputs {
		p, ok := target.Param(api.Name(name))
		if !ok {
			return stepErr(s, ErrUndeclaredInput, name)
		}
		actual, known := inputType(value, types)
		if known && !p.Type.Compatible(actual) {
			return stepErr(s, ErrTypeConflict,
				fmt.Sprintf("%s is %s, %s expects %s",
					name, actual, target.ID, p.Type))
		}
	}
	for _, name := range target.RequiredParams() {
		if _, ok := inputs[string(name)]; !ok {
			return stepErr(s, ErrMissingInput, string(name))
		}
	}
	return nil
}

// inputType infers the static type of an input expression: literals have
// their own type, a single placeholder naming a typed binding has that type
func inputType(
	value any, types map[api.Name]api.TypeName,
) (api.TypeName, bool) {
	str, ok := value.(string)
	if !ok {
		return api.TypeOf(value), value != nil
	}
	if !binding.HasPlaceholders(str) {
		return api.TypeString, true
	}
	t, err := binding.Compile(str)
	if err != nil || !t.IsSingle() {
		return api.TypeString, err == nil
	}
	path := t.Paths()[0]
	if binding.Root(path) != path {
		return "", false
	}
	res, ok := types[api.Name(path)]
	return res, ok && res != ""
}

func hasTerminalValue(f *api.FlowDefinition) bool {
	var res bool
	f.Walk(func(s *api.StepDefinition) {
		if s.Kind != api.StepTerminal {
			return
		}
		if _, ok := s.Params[api.ParamValue]; ok {
			res = true
		}
	})
	return res
}

func (b *bindings) clone() *bindings {
	types := make(map[api.Name]api.TypeName, len(b.types))
	for k, v := range b.types {
		types[k] = v
	}
	return &bindings{
		bound: b.bound.Clone(),
		maybe: b.maybe.Clone(),
		types: types,
	}
}

func stepErr(s *api.StepDefinition, err error, detail string) error {
	if detail == "" {
		return fmt.Errorf("step %s: %w", s.Name, err)
	}
	return fmt.Errorf("step %s: %w: %s", s.Name, err, detail)
}
