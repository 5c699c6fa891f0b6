package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// Client calls the agentflow HTTP API
	Client struct {
		httpClient *http.Client
		baseURL    string
	}

	// RunClient addresses a single run
	RunClient struct {
		client *Client
		runID  api.RunID
	}

	// StatusError reports a non-success HTTP response
	StatusError struct {
		Err    error
		Body   string
		Status int
	}
)

var (
	ErrListFlows      = errors.New("failed to list flows")
	ErrListWorkflows  = errors.New("failed to list workflows")
	ErrStartRun       = errors.New("failed to start run")
	ErrGetRun         = errors.New("failed to get run")
	ErrCancelRun      = errors.New("failed to cancel run")
	ErrSubmitFeedback = errors.New("failed to submit feedback")
	ErrGetExamples    = errors.New("failed to get examples")
	ErrPutExamples    = errors.New("failed to put examples")
)

const (
	DefaultEngineURL = "http://localhost:8080"

	routeFlow     = "/engine/flow"
	routeWorkflow = "/engine/workflow"
	routeRun      = "/engine/run"
	routeExamples = "/engine/examples"
)

// NewClient creates a client for the API at baseURL. A zero timeout leaves
// deadlines to the caller's context, which suits waiting submissions
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListFlows returns the flows registered with the engine
func (c *Client) ListFlows(
	ctx context.Context,
) (*api.FlowsListResponse, error) {
	var res api.FlowsListResponse
	err := c.do(ctx, http.MethodGet, c.url(routeFlow), nil, &res,
		ErrListFlows, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListWorkflows returns the workflows registered with the engine
func (c *Client) ListWorkflows(
	ctx context.Context,
) (*api.WorkflowsListResponse, error) {
	var res api.WorkflowsListResponse
	err := c.do(ctx, http.MethodGet, c.url(routeWorkflow), nil, &res,
		ErrListWorkflows, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// StartFlow submits a flow run. When req.Wait is set the call returns once
// the run is terminal and the response carries its final state
func (c *Client) StartFlow(
	ctx context.Context, id api.FlowID, req *api.SubmitFlowRequest,
) (*api.RunStartedResponse, error) {
	var res api.RunStartedResponse
	err := c.do(ctx, http.MethodPost,
		c.url("%s/%s/run", routeFlow, url.PathEscape(string(id))),
		req, &res, ErrStartRun, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// StartWorkflow submits a workflow run over a collection
func (c *Client) StartWorkflow(
	ctx context.Context, id api.WorkflowID, req *api.SubmitWorkflowRequest,
) (*api.RunStartedResponse, error) {
	var res api.RunStartedResponse
	err := c.do(ctx, http.MethodPost,
		c.url("%s/%s/run", routeWorkflow, url.PathEscape(string(id))),
		req, &res, ErrStartRun, http.StatusOK, http.StatusAccepted)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Run returns a client for the given run
func (c *Client) Run(id api.RunID) *RunClient {
	return &RunClient{
		client: c,
		runID:  id,
	}
}

// GetExamples reads the example record stored under key
func (c *Client) GetExamples(
	ctx context.Context, store, key string,
) (*api.ExamplesResponse, error) {
	var res api.ExamplesResponse
	err := c.do(ctx, http.MethodGet, c.examplesURL(store, key), nil, &res,
		ErrGetExamples, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// PutExamples merges upd into the example record stored under key
func (c *Client) PutExamples(
	ctx context.Context, store, key string, upd *api.ExampleUpdate,
) (*api.ExamplesResponse, error) {
	var res api.ExamplesResponse
	err := c.do(ctx, http.MethodPut, c.examplesURL(store, key), upd, &res,
		ErrPutExamples, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ID returns the run's identifier
func (rc *RunClient) ID() api.RunID {
	return rc.runID
}

// GetState returns the current state of the run
func (rc *RunClient) GetState(ctx context.Context) (*api.RunState, error) {
	var res api.RunState
	err := rc.client.do(ctx, http.MethodGet, rc.url(""), nil, &res,
		ErrGetRun, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Cancel requests cancellation of the run
func (rc *RunClient) Cancel(ctx context.Context) error {
	return rc.client.do(ctx, http.MethodDelete, rc.url(""), nil, nil,
		ErrCancelRun, http.StatusAccepted)
}

// Feedback delivers a human feedback payload to the run's waiting
// ui_feedback step. An empty step matches whichever step is waiting
func (rc *RunClient) Feedback(
	ctx context.Context, step string, payload any,
) error {
	return rc.client.do(ctx, http.MethodPost, rc.url("/feedback"),
		&api.FeedbackRequestBody{Step: step, Payload: payload}, nil,
		ErrSubmitFeedback, http.StatusAccepted)
}

func (rc *RunClient) url(suffix string) string {
	return rc.client.url("%s/%s%s",
		routeRun, url.PathEscape(string(rc.runID)), suffix)
}

func (c *Client) examplesURL(store, key string) string {
	return c.url("%s/%s/%s", routeExamples, url.PathEscape(store), key)
}

func (c *Client) url(format string, args ...any) string {
	path := fmt.Sprintf(format, args...)
	return c.baseURL + path
}

func (c *Client) do(
	ctx context.Context, method, target string, body, result any,
	failure error, accept ...int,
) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if !accepted(resp.StatusCode, accept) {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{
			Err:    failure,
			Status: resp.StatusCode,
			Body:   string(data),
		}
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func accepted(status int, accept []int) bool {
	for _, a := range accept {
		if status == a {
			return true
		}
	}
	return false
}

// Error implements error
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d, body: %s", e.Err, e.Status, e.Body)
}

// Unwrap returns the operation's sentinel error
func (e *StatusError) Unwrap() error {
	return e.Err
}
