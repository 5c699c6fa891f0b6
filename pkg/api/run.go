package api

import "time"

type (
	// RunStatus represents the lifecycle state of a RunInstance
	RunStatus string

	// RunKind distinguishes flow runs from workflow runs
	RunKind string

	// RunState is a point-in-time snapshot of one RunInstance
	RunState struct {
		CreatedAt   time.Time         `json:"created_at"`
		CompletedAt time.Time         `json:"completed_at,omitzero"`
		Result      any               `json:"result,omitempty"`
		Error       *RunError         `json:"error,omitempty"`
		Inputs      Args              `json:"inputs,omitempty"`
		ID          RunID             `json:"id"`
		Parent      RunID             `json:"parent,omitempty"`
		Kind        RunKind           `json:"kind"`
		Target      string            `json:"target"`
		Status      RunStatus         `json:"status"`
		Cursor      string            `json:"cursor,omitempty"`
		Outcomes    []*ElementOutcome `json:"outcomes,omitempty"`
	}

	// RunError is the user-visible description of why a run failed: the
	// failing step name, error kind and message
	RunError struct {
		Step    string    `json:"step,omitempty"`
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
		Failed  []string  `json:"failed,omitempty"`
	}

	// ElementOutcome reports how one fan-out element finished
	ElementOutcome struct {
		Element any       `json:"element"`
		Result  any       `json:"result,omitempty"`
		Error   *RunError `json:"error,omitempty"`
		ID      string    `json:"id"`
		RunID   RunID     `json:"run_id,omitempty"`
		Status  RunStatus `json:"status"`
		Index   int       `json:"index"`
	}
)

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"

	RunKindFlow     RunKind = "flow"
	RunKindWorkflow RunKind = "workflow"
)

// IsTerminal reports whether the status is absorbing
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the outcome completed successfully
func (o *ElementOutcome) Succeeded() bool {
	return o.Status == RunSucceeded
}
