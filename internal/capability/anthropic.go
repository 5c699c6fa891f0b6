package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kode4food/agentflow/pkg/api"
)

type (
	// AnthropicModel is a ModelAsker backed by the Anthropic Messages API.
	// The guide becomes the system prompt; each example becomes a user and
	// assistant turn; the inputs are sent as the final user turn, all as
	// JSON. A JSON reply is decoded, anything else is returned as text
	AnthropicModel struct {
		messages  messageSender
		model     string
		maxTokens int64
	}

	messageSender interface {
		New(
			ctx context.Context, params anthropic.MessageNewParams,
			opts ...option.RequestOption,
		) (*anthropic.Message, error)
	}
)

const jsonInstruction = "Respond with JSON only."

var _ api.ModelAsker = (*AnthropicModel)(nil)

var ErrEmptyCompletion = errors.New("model returned no text")

// NewAnthropicModel creates a model asker using the given API key. The
// client makes a single attempt per Ask; retries belong to the dispatcher
func NewAnthropicModel(
	apiKey, model string, maxTokens int64, opts ...option.RequestOption,
) *AnthropicModel {
	opts = append([]option.RequestOption{
		option.WithMaxRetries(0),
		option.WithAPIKey(apiKey),
	}, opts...)
	client := anthropic.NewClient(opts...)
	return &AnthropicModel{
		messages:  &client.Messages,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Ask sends the guide, examples and inputs to the model
func (m *AnthropicModel) Ask(
	ctx context.Context, guide string, examples []api.Example, inputs api.Args,
) (any, error) {
	msgs := make([]anthropic.MessageParam, 0, len(examples)*2+1)
	for _, ex := range examples {
		in, err := json.Marshal(ex.Input)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(ex.Output)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs,
			anthropic.NewUserMessage(anthropic.NewTextBlock(string(in))),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(string(out))),
		)
	}
	in, err := json.Marshal(inputs)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs,
		anthropic.NewUserMessage(anthropic.NewTextBlock(string(in))),
	)

	msg, err := m.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(m.model),
		MaxTokens: m.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: guide + "\n\n" + jsonInstruction},
		},
		Messages: msgs,
	})
	if err != nil {
		return nil, classifyModelError(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyCompletion
	}
	return decodeCompletion(text), nil
}

func classifyModelError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &api.ExternalCallError{
			Err: fmt.Errorf("anthropic: %w", err),
			Retryable: apiErr.StatusCode == http.StatusTooManyRequests ||
				apiErr.StatusCode >= http.StatusInternalServerError,
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return retryable(err)
}

// decodeCompletion decodes a JSON reply, tolerating a fenced code block
func decodeCompletion(text string) any {
	body := strings.TrimSpace(text)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	var res any
	if err := json.Unmarshal([]byte(body), &res); err == nil {
		return res
	}
	return text
}
