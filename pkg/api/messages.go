package api

type (
	// SubmitFlowRequest contains the inputs for starting a flow run
	SubmitFlowRequest struct {
		Inputs Args `json:"inputs"`
		Wait   bool `json:"wait,omitempty"`
	}

	// SubmitWorkflowRequest contains the collection and shared inputs for
	// starting a workflow run
	SubmitWorkflowRequest struct {
		Items  []any         `json:"items"`
		Inputs Args          `json:"inputs,omitempty"`
		Policy FailurePolicy `json:"policy,omitempty"`
		Wait   bool          `json:"wait,omitempty"`
	}

	// RunStartedResponse is returned when a run is submitted
	RunStartedResponse struct {
		State   *RunState `json:"state,omitempty"`
		Message string    `json:"message"`
		RunID   RunID     `json:"run_id"`
	}

	// FlowsListResponse lists the registered flows
	FlowsListResponse struct {
		Flows []*FlowDefinition `json:"flows"`
		Count int               `json:"count"`
	}

	// WorkflowsListResponse lists the registered workflows
	WorkflowsListResponse struct {
		Workflows []*WorkflowDefinition `json:"workflows"`
		Count     int                   `json:"count"`
	}

	// FeedbackRequestBody is a human feedback submission for a run waiting
	// on a ui_feedback step
	FeedbackRequestBody struct {
		Payload any    `json:"payload"`
		Step    string `json:"step,omitempty"`
	}

	// ExamplesResponse returns an example record with its current version
	ExamplesResponse struct {
		Record  *ExampleRecord `json:"record"`
		Version int64          `json:"version"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Version string `json:"version"`
		Status  string `json:"status"`
		Runs    int    `json:"runs"`
	}

	// MessageResponse contains a simple message string
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ErrorResponse contains error details for failed requests
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status,omitempty"`
	}
)

type (
	// SubscribedResult acknowledges a websocket subscription with the
	// current state of each subscribed run that is known to the engine
	SubscribedResult struct {
		Type   string      `json:"type"`
		States []*RunState `json:"states,omitempty"`
	}
)
