// Package llm provides an abstraction for the language-model completion call.
package llm

import "context"

// Stop reasons reported by providers.
const (
	StopEndTurn   = "end_turn"
	StopStop      = "stop"
	StopSequence  = "stop_sequence"
	StopMaxTokens = "max_tokens"
	StopLength    = "length"
)

// Message is one turn of model context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a single non-streaming completion call.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Completion is the model's answer. Text may be empty.
type Completion struct {
	Text         string
	StopReason   string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client performs completion calls. Failures are reported as
// domain.ErrModelUnavailable or domain.ErrModelTimeout.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// Ensure implementations satisfy Client.
var (
	_ Client = (*OpenAIClient)(nil)
	_ Client = (*MockClient)(nil)
)
