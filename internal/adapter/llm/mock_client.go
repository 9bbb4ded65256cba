package llm

import (
	"context"
	"fmt"
	"strings"
)

// KBMarker introduces knowledge-base context in a user turn.
const KBMarker = "**Relevant Knowledge Base Articles:**"

// MockClient is a canned Client for local runs and tests.
type MockClient struct{}

// NewMockClient creates a new mock LLM client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Complete returns a mock response.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := m.generateMockResponse(req)
	return &Completion{
		Text:         text,
		StopReason:   StopEndTurn,
		Model:        "mock",
		InputTokens:  m.estimateTokens(req),
		OutputTokens: len(text) / 4,
	}, nil
}

// generateMockResponse echoes the last user message and lists any
// knowledge-base titles it carried as next steps.
func (m *MockClient) generateMockResponse(req *CompletionRequest) string {
	var lastUserMessage string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			lastUserMessage = req.Messages[i].Content
			break
		}
	}
	if lastUserMessage == "" {
		return "[MOCK] This is a mock response from the LLM client."
	}

	question, kb, hasKB := strings.Cut(lastUserMessage, KBMarker)
	var b strings.Builder
	fmt.Fprintf(&b, "[MOCK] Received your message: %q.", truncate(strings.TrimSpace(question), 100))
	if hasKB {
		b.WriteString("\n\nNext steps:\n")
		for _, line := range strings.Split(kb, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if title, _, ok := strings.Cut(line, " (Relevance:"); ok {
				fmt.Fprintf(&b, "- Read %q\n", title)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens provides a rough token count estimate.
func (m *MockClient) estimateTokens(req *CompletionRequest) int {
	total := len(req.System) / 4
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	return total
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
