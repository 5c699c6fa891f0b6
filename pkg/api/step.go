package api

import (
	"errors"
	"fmt"
)

type (
	// StepKind selects how the interpreter performs a step
	StepKind string

	// StepDefinition is one immutable step of a flow. Params map parameter
	// names to literals or template expressions
	StepDefinition struct {
		Params     map[string]any      `json:"params,omitempty" yaml:"params,omitempty"`
		When       *Condition          `json:"when,omitempty" yaml:"when,omitempty"`
		Retry      *RetryConfig        `json:"retry,omitempty" yaml:"retry,omitempty"`
		Response   map[string]TypeName `json:"response,omitempty" yaml:"response,omitempty"`
		Name       string              `json:"name" yaml:"name"`
		Kind       StepKind            `json:"kind" yaml:"kind"`
		Capability string              `json:"capability,omitempty" yaml:"capability,omitempty"`
		Target     string              `json:"target,omitempty" yaml:"target,omitempty"`
		Output     Name                `json:"output,omitempty" yaml:"output,omitempty"`
		OutputType TypeName            `json:"output_type,omitempty" yaml:"output_type,omitempty"`
		Then       []*StepDefinition   `json:"then,omitempty" yaml:"then,omitempty"`
		Else       []*StepDefinition   `json:"else,omitempty" yaml:"else,omitempty"`
		Examples   []Example           `json:"examples,omitempty" yaml:"examples,omitempty"`
		TimeoutMs  int64               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	}

	// Condition selects a branch of a conditional step. Value is resolved
	// through the binding resolver; when Equals is set the resolved value is
	// compared against it. Script, when set, is a Lua predicate receiving
	// the named Args as locals
	Condition struct {
		Equals any    `json:"equals,omitempty" yaml:"equals,omitempty"`
		Value  string `json:"value,omitempty" yaml:"value,omitempty"`
		Script string `json:"script,omitempty" yaml:"script,omitempty"`
		Args   []Name `json:"args,omitempty" yaml:"args,omitempty"`
		Not    bool   `json:"not,omitempty" yaml:"not,omitempty"`
	}

	// RetryConfig overrides the engine retry policy for a single step
	RetryConfig struct {
		BackoffType  string `json:"backoff_type,omitempty" yaml:"backoff_type,omitempty"`
		MaxAttempts  int    `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
		BackoffMs    int64  `json:"backoff_ms,omitempty" yaml:"backoff_ms,omitempty"`
		MaxBackoffMs int64  `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
	}
)

const (
	StepPromptSource  StepKind = "prompt_source"
	StepMemory        StepKind = "memory"
	StepStore         StepKind = "store"
	StepRemoteCall    StepKind = "remote_call"
	StepResourceFetch StepKind = "resource_fetch"
	StepAskModel      StepKind = "ask_model"
	StepDelegate      StepKind = "delegate"
	StepAssignment    StepKind = "assignment"
	StepConditional   StepKind = "conditional"
	StepTerminal      StepKind = "terminal"
	StepEmit          StepKind = "emit"
	StepUIFeedback    StepKind = "ui_feedback"
	StepApplyFeedback StepKind = "apply_feedback"

	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

// Well-known step parameter names
const (
	ParamQuery        = "query"
	ParamOp           = "op"
	ParamKey          = "key"
	ParamValue        = "value"
	ParamPayload      = "payload"
	ParamLocator      = "locator"
	ParamGuide        = "guide"
	ParamInputs       = "inputs"
	ParamLoader       = "loader"
	ParamLoaderQuery  = "loader_query"
	ParamExamplesFrom = "examples_from"
	ParamStore        = "store"
	ParamSection      = "section"
	ParamMessage      = "message"
	ParamLevel        = "level"
	ParamContext      = "context"
	ParamUpdate       = "update"

	MemoryOpGet = "get"
	MemoryOpPut = "put"
)

var (
	ErrStepNameEmpty      = errors.New("step name empty")
	ErrInvalidStepKind    = errors.New("invalid step kind")
	ErrCapabilityRequired = errors.New("capability required")
	ErrConditionRequired  = errors.New("condition required")
	ErrBranchesRequired   = errors.New("conditional has no branches")
	ErrTargetRequired     = errors.New("delegate target required")
	ErrOutputRequired     = errors.New("output name required")
	ErrParamRequired      = errors.New("parameter required")
	ErrInvalidOutputType  = errors.New("invalid output type")
	ErrInvalidMemoryOp    = errors.New("invalid memory op")
	ErrInvalidRetryConfig = errors.New("invalid retry config")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrNegativeBackoff    = errors.New("backoff_ms cannot be negative")
	ErrMaxBackoffTooSmall = errors.New("max_backoff_ms must be >= backoff_ms")
	ErrNegativeTimeout    = errors.New("timeout_ms cannot be negative")
)

var capabilityKinds = map[StepKind]bool{
	StepPromptSource:  true,
	StepMemory:        true,
	StepStore:         true,
	StepRemoteCall:    true,
	StepResourceFetch: true,
	StepAskModel:      true,
	StepUIFeedback:    true,
	StepApplyFeedback: true,
}

var validStepKinds = map[StepKind]bool{
	StepPromptSource:  true,
	StepMemory:        true,
	StepStore:         true,
	StepRemoteCall:    true,
	StepResourceFetch: true,
	StepAskModel:      true,
	StepDelegate:      true,
	StepAssignment:    true,
	StepConditional:   true,
	StepTerminal:      true,
	StepEmit:          true,
	StepUIFeedback:    true,
	StepApplyFeedback: true,
}

var requiredParams = map[StepKind][]string{
	StepPromptSource:  {ParamQuery},
	StepMemory:        {ParamKey},
	StepStore:         {ParamKey, ParamValue},
	StepResourceFetch: {ParamLocator},
	StepAskModel:      {ParamGuide},
	StepAssignment:    {ParamValue},
	StepEmit:          {ParamMessage},
	StepApplyFeedback: {ParamKey, ParamUpdate},
}

var validBackoffTypes = map[string]bool{
	BackoffTypeFixed:       true,
	BackoffTypeLinear:      true,
	BackoffTypeExponential: true,
}

// UsesCapability reports whether steps of this kind dispatch to an external
// capability
func (k StepKind) UsesCapability() bool {
	return capabilityKinds[k]
}

// IsRetryable reports whether dispatches of this kind are idempotent enough to
// be retried automatically
func (k StepKind) IsRetryable() bool {
	return k == StepRemoteCall || k == StepAskModel
}

// Validate checks the structure of a step and its nested branches. It does
// not check references between steps; that is the engine's job at load time
func (s *StepDefinition) Validate() error {
	if s.Name == "" {
		return ErrStepNameEmpty
	}
	if !validStepKinds[s.Kind] {
		return s.errorf(ErrInvalidStepKind, string(s.Kind))
	}
	if s.Kind.UsesCapability() && s.Capability == "" {
		return s.errorf(ErrCapabilityRequired, string(s.Kind))
	}
	if !s.OutputType.IsValid() {
		return s.errorf(ErrInvalidOutputType, string(s.OutputType))
	}
	for _, p := range requiredParams[s.Kind] {
		if _, ok := s.Params[p]; !ok {
			return s.errorf(ErrParamRequired, p)
		}
	}
	for field, typ := range s.Response {
		if !typ.IsValid() {
			return s.errorf(ErrInvalidOutputType, field)
		}
	}
	if s.TimeoutMs < 0 {
		return s.errorf(ErrNegativeTimeout, "")
	}

	switch s.Kind {
	case StepAssignment:
		if s.Output == "" {
			return s.errorf(ErrOutputRequired, "")
		}
	case StepDelegate:
		if s.Target == "" {
			return s.errorf(ErrTargetRequired, "")
		}
	case StepMemory:
		if err := s.validateMemoryOp(); err != nil {
			return err
		}
	case StepConditional:
		if err := s.validateConditional(); err != nil {
			return err
		}
	}
	return s.validateRetry()
}

// MemoryOp returns the memory operation of a memory step, defaulting to get
func (s *StepDefinition) MemoryOp() string {
	op, _ := s.Params[ParamOp].(string)
	if op == "" {
		return MemoryOpGet
	}
	return op
}

func (s *StepDefinition) validateMemoryOp() error {
	switch s.MemoryOp() {
	case MemoryOpGet:
		return nil
	case MemoryOpPut:
		if _, ok := s.Params[ParamValue]; !ok {
			return s.errorf(ErrParamRequired, ParamValue)
		}
		return nil
	default:
		return s.errorf(ErrInvalidMemoryOp, s.MemoryOp())
	}
}

func (s *StepDefinition) validateConditional() error {
	if s.When == nil || (s.When.Value == "" && s.When.Script == "") {
		return s.errorf(ErrConditionRequired, "")
	}
	if len(s.Then) == 0 && len(s.Else) == 0 {
		return s.errorf(ErrBranchesRequired, "")
	}
	for _, branch := range [][]*StepDefinition{s.Then, s.Else} {
		for _, child := range branch {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *StepDefinition) validateRetry() error {
	r := s.Retry
	if r == nil {
		return nil
	}
	if r.BackoffMs < 0 {
		return s.errorf(ErrNegativeBackoff, "")
	}
	if r.MaxBackoffMs != 0 && r.MaxBackoffMs < r.BackoffMs {
		return s.errorf(ErrMaxBackoffTooSmall, "")
	}
	if r.MaxAttempts < 0 {
		return s.errorf(ErrInvalidRetryConfig, "max_attempts")
	}
	if r.BackoffType != "" && !validBackoffTypes[r.BackoffType] {
		return s.errorf(ErrInvalidBackoffType, r.BackoffType)
	}
	return nil
}

func (s *StepDefinition) errorf(err error, detail string) error {
	if detail == "" {
		return fmt.Errorf("step %s: %w", s.Name, err)
	}
	return fmt.Errorf("step %s: %w: %s", s.Name, err, detail)
}
