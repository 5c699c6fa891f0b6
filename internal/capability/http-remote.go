package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/kode4food/agentflow/pkg/api"
	"github.com/kode4food/agentflow/pkg/log"
)

// HTTPRemote is a RemoteEndpoint that POSTs the JSON payload to a fixed URL
// and decodes a JSON object response. Network failures, 429 and 5xx
// responses are reported as retryable
type HTTPRemote struct {
	httpClient *http.Client
	headers    map[string]string
	endpoint   string
}

const userAgent = "AgentFlow-Engine/1.0"

var _ api.RemoteEndpoint = (*HTTPRemote)(nil)

var (
	ErrHTTPError       = errors.New("remote returned HTTP error")
	ErrInvalidResponse = errors.New("remote returned invalid response")
)

// NewHTTPRemote creates a remote endpoint for url. A zero timeout leaves
// the deadline to the caller's context
func NewHTTPRemote(
	endpoint string, timeout time.Duration, headers map[string]string,
) *HTTPRemote {
	return &HTTPRemote{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		headers:  headers,
		endpoint: endpoint,
	}
}

// Call sends payload and returns the decoded response object
func (c *HTTPRemote) Call(
	ctx context.Context, payload api.Args,
) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	dur := time.Since(start)
	if err != nil {
		slog.Error("HTTP request failed",
			slog.String("endpoint", c.endpoint),
			log.Duration(dur),
			log.Error(err))
		return nil, retryable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retryable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("HTTP error",
			slog.String("endpoint", c.endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(respBody)))
		return nil, &api.ExternalCallError{
			Err: fmt.Errorf("%w: HTTP %d", ErrHTTPError, resp.StatusCode),
			Retryable: resp.StatusCode == http.StatusTooManyRequests ||
				resp.StatusCode >= http.StatusInternalServerError,
		}
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return map[string]any{}, nil
	}
	var res map[string]any
	if err := json.Unmarshal(respBody, &res); err != nil {
		return nil, &api.SchemaMismatchError{
			Expected: api.TypeDict,
			Actual:   responseType(respBody),
		}
	}
	return res, nil
}

func responseType(data []byte) api.TypeName {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return api.TypeString
	}
	return api.TypeOf(v)
}
