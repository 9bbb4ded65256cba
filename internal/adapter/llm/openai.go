package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// OpenAIClient calls any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for baseURL. An empty baseURL uses the
// provider default.
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	config.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	const op = "llm.complete"
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, classify(op, err)
	}

	out := &Completion{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.StopReason = string(resp.Choices[0].FinishReason)
	}
	return out, nil
}

func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.E(domain.ErrModelTimeout, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.E(domain.ErrModelUnavailable, op, fmt.Errorf("status %d: %s", apiErr.HTTPStatusCode, apiErr.Message))
	}
	return domain.E(domain.ErrModelUnavailable, op, err)
}
