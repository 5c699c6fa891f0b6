package api

import (
	"errors"
	"fmt"
)

type (
	// Param declares one formal parameter of a flow or workflow
	Param struct {
		Name     Name     `json:"name" yaml:"name"`
		Type     TypeName `json:"type,omitempty" yaml:"type,omitempty"`
		Optional bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
	}

	// Output declares the terminal output of a flow or workflow
	Output struct {
		Name Name     `json:"name" yaml:"name"`
		Type TypeName `json:"type,omitempty" yaml:"type,omitempty"`
	}

	// FlowDefinition is an ordered sequence of steps with declared inputs
	// and one terminal output
	FlowDefinition struct {
		Gives       *Output           `json:"gives,omitempty" yaml:"gives,omitempty"`
		ID          FlowID            `json:"id" yaml:"id"`
		Description string            `json:"description,omitempty" yaml:"description,omitempty"`
		Params      []Param           `json:"params,omitempty" yaml:"params,omitempty"`
		Steps       []*StepDefinition `json:"steps" yaml:"steps"`
		TimeoutMs   int64             `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	}
)

var (
	ErrFlowIDEmpty       = errors.New("flow ID empty")
	ErrFlowHasNoSteps    = errors.New("flow has no steps")
	ErrParamNameEmpty    = errors.New("parameter name empty")
	ErrDuplicateParam    = errors.New("duplicate parameter")
	ErrDuplicateStepName = errors.New("duplicate step name")
	ErrInvalidParamType  = errors.New("invalid parameter type")
)

// Validate checks the structure of the flow and all of its steps
func (f *FlowDefinition) Validate() error {
	if f.ID == "" {
		return ErrFlowIDEmpty
	}
	if len(f.Steps) == 0 {
		return fmt.Errorf("%w: %s", ErrFlowHasNoSteps, f.ID)
	}
	if err := validateParams(f.Params); err != nil {
		return fmt.Errorf("flow %s: %w", f.ID, err)
	}
	if f.Gives != nil && !f.Gives.Type.IsValid() {
		return fmt.Errorf("flow %s: %w: %s",
			f.ID, ErrInvalidOutputType, f.Gives.Type)
	}
	if f.TimeoutMs < 0 {
		return fmt.Errorf("flow %s: %w", f.ID, ErrNegativeTimeout)
	}

	seen := map[string]bool{}
	var walk func([]*StepDefinition) error
	walk = func(steps []*StepDefinition) error {
		for _, s := range steps {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("flow %s: %w", f.ID, err)
			}
			if seen[s.Name] {
				return fmt.Errorf("flow %s: %w: %s",
					f.ID, ErrDuplicateStepName, s.Name)
			}
			seen[s.Name] = true
			if err := walk(s.Then); err != nil {
				return err
			}
			if err := walk(s.Else); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(f.Steps)
}

// Param returns the declared parameter with the given name
func (f *FlowDefinition) Param(name Name) (Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// RequiredParams returns the names of all non-optional parameters
func (f *FlowDefinition) RequiredParams() []Name {
	var res []Name
	for _, p := range f.Params {
		if !p.Optional {
			res = append(res, p.Name)
		}
	}
	return res
}

// Walk visits every step of the flow in declaration order, descending into
// conditional branches
func (f *FlowDefinition) Walk(fn func(*StepDefinition)) {
	var walk func([]*StepDefinition)
	walk = func(steps []*StepDefinition) {
		for _, s := range steps {
			fn(s)
			walk(s.Then)
			walk(s.Else)
		}
	}
	walk(f.Steps)
}

func validateParams(params []Param) error {
	seen := map[Name]bool{}
	for _, p := range params {
		if p.Name == "" {
			return ErrParamNameEmpty
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateParam, p.Name)
		}
		if !p.Type.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidParamType, p.Type)
		}
		seen[p.Name] = true
	}
	return nil
}
