package api

import (
	"errors"
	"fmt"
)

type (
	// FailurePolicy selects how a fan-out reacts to a failed element
	FailurePolicy string

	// WorkflowDefinition wraps a parallel block that invokes an agent or
	// flow once per element of an input collection
	WorkflowDefinition struct {
		Gives       *Output        `json:"gives,omitempty" yaml:"gives,omitempty"`
		Invoke      Invocation     `json:"invoke" yaml:"invoke"`
		ID          WorkflowID     `json:"id" yaml:"id"`
		Description string         `json:"description,omitempty" yaml:"description,omitempty"`
		Over        Name           `json:"over" yaml:"over"`
		Item        Name           `json:"item" yaml:"item"`
		Policy      FailurePolicy  `json:"policy,omitempty" yaml:"policy,omitempty"`
		Params      []Param        `json:"params,omitempty" yaml:"params,omitempty"`
		Parallelism int            `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
		TimeoutMs   int64          `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
		Labels      map[string]any `json:"labels,omitempty" yaml:"labels,omitempty"`
	}

	// Invocation names the agent or flow a workflow runs per element, and
	// maps its inputs from the element context
	Invocation struct {
		Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
		Target string         `json:"target" yaml:"target"`
	}

	// AgentDefinition binds an agent name to the flow it runs
	AgentDefinition struct {
		ID          AgentID `json:"id" yaml:"id"`
		Flow        FlowID  `json:"flow" yaml:"flow"`
		Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	}

	// Definitions is the full set of definitions loaded into an engine
	Definitions struct {
		Flows     []*FlowDefinition     `json:"flows,omitempty" yaml:"flows,omitempty"`
		Workflows []*WorkflowDefinition `json:"workflows,omitempty" yaml:"workflows,omitempty"`
		Agents    []*AgentDefinition    `json:"agents,omitempty" yaml:"agents,omitempty"`
	}
)

const (
	PolicyFailFast   FailurePolicy = "fail_fast"
	PolicyBestEffort FailurePolicy = "best_effort"
)

var (
	ErrWorkflowIDEmpty      = errors.New("workflow ID empty")
	ErrWorkflowOverEmpty    = errors.New("workflow collection name empty")
	ErrWorkflowItemEmpty    = errors.New("workflow item name empty")
	ErrInvokeTargetEmpty    = errors.New("workflow invoke target empty")
	ErrInvalidFailurePolicy = errors.New("invalid failure policy")
	ErrNegativeParallelism  = errors.New("parallelism cannot be negative")
	ErrAgentIDEmpty         = errors.New("agent ID empty")
	ErrAgentFlowEmpty       = errors.New("agent flow empty")
)

// IsValid reports whether the policy is known. The empty policy defers to
// the engine default
func (p FailurePolicy) IsValid() bool {
	return p == "" || p == PolicyFailFast || p == PolicyBestEffort
}

// Validate checks the structure of the workflow definition
func (w *WorkflowDefinition) Validate() error {
	if w.ID == "" {
		return ErrWorkflowIDEmpty
	}
	if w.Over == "" {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrWorkflowOverEmpty)
	}
	if w.Item == "" {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrWorkflowItemEmpty)
	}
	if w.Invoke.Target == "" {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrInvokeTargetEmpty)
	}
	if !w.Policy.IsValid() {
		return fmt.Errorf("workflow %s: %w: %s",
			w.ID, ErrInvalidFailurePolicy, w.Policy)
	}
	if w.Parallelism < 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrNegativeParallelism)
	}
	if w.TimeoutMs < 0 {
		return fmt.Errorf("workflow %s: %w", w.ID, ErrNegativeTimeout)
	}
	if err := validateParams(w.Params); err != nil {
		return fmt.Errorf("workflow %s: %w", w.ID, err)
	}
	return nil
}

// GivesName returns the name the aggregated results are bound to
func (w *WorkflowDefinition) GivesName() Name {
	if w.Gives != nil && w.Gives.Name != "" {
		return w.Gives.Name
	}
	return "results"
}

// Validate checks the structure of the agent definition
func (a *AgentDefinition) Validate() error {
	if a.ID == "" {
		return ErrAgentIDEmpty
	}
	if a.Flow == "" {
		return fmt.Errorf("agent %s: %w", a.ID, ErrAgentFlowEmpty)
	}
	return nil
}
