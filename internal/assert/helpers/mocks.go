package helpers

import (
	"context"
	"maps"
	"sync"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// ModelHandler answers one model request
	ModelHandler func(
		ctx context.Context, guide string, examples []api.Example,
		inputs api.Args,
	) (any, error)

	// ModelCall records one request made to a MockModel
	ModelCall struct {
		Inputs   api.Args
		Guide    string
		Examples []api.Example
	}

	// MockModel is a ModelAsker that answers through a replaceable handler
	// and records every call
	MockModel struct {
		handler ModelHandler
		calls   []ModelCall
		mu      sync.Mutex
	}

	// MockRemote is a RemoteEndpoint that returns a configured response,
	// optionally failing a number of calls first
	MockRemote struct {
		response map[string]any
		errs     []error
		payloads []api.Args
		mu       sync.Mutex
	}
)

var (
	_ api.ModelAsker     = (*MockModel)(nil)
	_ api.RemoteEndpoint = (*MockRemote)(nil)
)

// NewMockModel creates a model that answers like the sample SEC analyst
func NewMockModel() *MockModel {
	return &MockModel{handler: SECAnalyst}
}

// Ask records the call and delegates to the handler
func (m *MockModel) Ask(
	ctx context.Context, guide string, examples []api.Example, inputs api.Args,
) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ModelCall{
		Guide:    guide,
		Examples: examples,
		Inputs:   maps.Clone(inputs),
	})
	h := m.handler
	m.mu.Unlock()
	return h(ctx, guide, examples, inputs)
}

// SetHandler replaces the handler answering model requests
func (m *MockModel) SetHandler(h ModelHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Calls returns the recorded model calls in order
func (m *MockModel) Calls() []ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ModelCall(nil), m.calls...)
}

// NewMockRemote creates an endpoint that acknowledges every call
func NewMockRemote() *MockRemote {
	return &MockRemote{
		response: map[string]any{"success": true, "message": "stored"},
	}
}

// Call records the payload and returns the next queued error or the
// configured response
func (r *MockRemote) Call(
	_ context.Context, payload api.Args,
) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, maps.Clone(payload))
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return nil, err
	}
	return maps.Clone(r.response), nil
}

// SetResponse configures the response returned by successful calls
func (r *MockRemote) SetResponse(res map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.response = res
}

// FailNext queues errors returned by the next calls, one per call
func (r *MockRemote) FailNext(errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, errs...)
}

// Payloads returns the payloads of every call in order
func (r *MockRemote) Payloads() []api.Args {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.Args(nil), r.payloads...)
}

// CallCount returns the number of calls made
func (r *MockRemote) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}
