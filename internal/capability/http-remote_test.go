package capability_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kode4food/agentflow/internal/capability"
	"github.com/kode4food/agentflow/pkg/api"
)

func TestHTTPRemoteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "AgentFlow-Engine/1.0", r.Header.Get("User-Agent"))
			assert.Equal(t, "secret", r.Header.Get("X-Token"))

			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "A", req["filing_id"])

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"message": "stored",
			})
		},
	))
	defer server.Close()

	c := capability.NewHTTPRemote(server.URL, 5*time.Second,
		map[string]string{"X-Token": "secret"})
	res, err := c.Call(context.Background(), api.Args{"filing_id": "A"})
	require.NoError(t, err)
	assert.Equal(t, true, res["success"])
	assert.Equal(t, "stored", res["message"])
}

func TestHTTPRemoteEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		},
	))
	defer server.Close()

	c := capability.NewHTTPRemote(server.URL, 0, nil)
	res, err := c.Call(context.Background(), api.Args{})
	assert.NoError(t, err)
	assert.Empty(t, res)
}

func TestHTTPRemoteErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		schema    bool
	}{
		{name: "server error", status: 503, retryable: true},
		{name: "rate limited", status: 429, retryable: true},
		{name: "bad request", status: 400, retryable: false},
		{name: "not an object", status: 200, body: `[1,2]`, schema: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(
				func(w http.ResponseWriter, _ *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				},
			))
			defer server.Close()

			c := capability.NewHTTPRemote(server.URL, 5*time.Second, nil)
			_, err := c.Call(context.Background(), api.Args{})
			assert.Error(t, err)
			if tt.schema {
				var sm *api.SchemaMismatchError
				assert.ErrorAs(t, err, &sm)
				assert.Equal(t, api.TypeList, sm.Actual)
				return
			}
			assert.ErrorIs(t, err, capability.ErrHTTPError)
			assert.Equal(t, tt.retryable, api.IsRetryable(err))
		})
	}
}

func TestHTTPRemoteNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := capability.NewHTTPRemote(url, time.Second, nil)
	_, err := c.Call(context.Background(), api.Args{})
	assert.Error(t, err)
	assert.True(t, api.IsRetryable(err))
}
