package capability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/agentflow/internal/capability"
	"github.com/kode4food/agentflow/pkg/api"
)

func anthropicServer(
	t *testing.T, status int, text string, seen *map[string]any,
) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/messages", r.URL.Path)
			if seen != nil {
				require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			if status != http.StatusOK {
				_, _ = w.Write([]byte(`{"type":"error","error":{` +
					`"type":"api_error","message":"boom"}}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":    "msg_1",
				"type":  "message",
				"role":  "assistant",
				"model": "test-model",
				"content": []map[string]any{
					{"type": "text", "text": text},
				},
				"stop_reason": "end_turn",
				"usage": map[string]any{
					"input_tokens": 1, "output_tokens": 1,
				},
			})
		},
	))
}

func TestAnthropicModelAsk(t *testing.T) {
	var seen map[string]any
	server := anthropicServer(t, http.StatusOK, `"weak"`, &seen)
	defer server.Close()

	m := capability.NewAnthropicModel("key", "test-model", 256,
		option.WithBaseURL(server.URL), option.WithMaxRetries(0))

	res, err := m.Ask(context.Background(),
		"Classify financial health",
		[]api.Example{{
			Input:  map[string]any{"revenue": 10, "debt": 1},
			Output: "strong",
		}},
		api.Args{"revenue": 1000000000, "debt": 2000000000},
	)
	require.NoError(t, err)
	assert.Equal(t, "weak", res)

	assert.Equal(t, "test-model", seen["model"])
	msgs, ok := seen["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 3)
}

func TestAnthropicModelStructuredReply(t *testing.T) {
	server := anthropicServer(t, http.StatusOK,
		"```json\n{\"name\":\"Apple\"}\n```", nil)
	defer server.Close()

	m := capability.NewAnthropicModel("key", "test-model", 256,
		option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	res, err := m.Ask(context.Background(), "Extract", nil, api.Args{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Apple"}, res)
}

func TestAnthropicModelErrors(t *testing.T) {
	server := anthropicServer(t, http.StatusInternalServerError, "", nil)
	defer server.Close()

	m := capability.NewAnthropicModel("key", "test-model", 256,
		option.WithBaseURL(server.URL), option.WithMaxRetries(0))
	_, err := m.Ask(context.Background(), "Extract", nil, api.Args{})
	assert.Error(t, err)
	assert.True(t, api.IsRetryable(err))
}

func TestAnthropicModelSingleAttempt(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"type":"error","error":{` +
				`"type":"api_error","message":"boom"}}`))
		},
	))
	defer server.Close()

	m := capability.NewAnthropicModel("key", "test-model", 256,
		option.WithBaseURL(server.URL))
	_, err := m.Ask(context.Background(), "Extract", nil, api.Args{})
	assert.Error(t, err)
	assert.True(t, api.IsRetryable(err))
	assert.Equal(t, int32(1), requests.Load())
}
