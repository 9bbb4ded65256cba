package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/config"
	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

func TestOpenAIClientComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"chatcmpl-1","object":"chat.completion","model":"support-model",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Happy to help."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":120,"completion_tokens":8,"total_tokens":128}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, "support-model", 5*time.Second)
	out, err := c.Complete(context.Background(), &CompletionRequest{
		System:      "be nice",
		Messages:    []Message{{Role: "user", Content: "hello"}},
		MaxTokens:   256,
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help.", out.Text)
	assert.Equal(t, StopStop, out.StopReason)
	assert.Equal(t, 120, out.InputTokens)
	assert.Equal(t, 8, out.OutputTokens)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "be nice", msgs[0].(map[string]any)["content"])
	assert.Equal(t, "support-model", got["model"])
	assert.EqualValues(t, 256, got["max_tokens"])
}

func TestOpenAIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL, "m", 5*time.Second)
	_, err := c.Complete(context.Background(), &CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)

	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer slowSrv.Close()

	slow := NewOpenAIClient("sk-test", slowSrv.URL, "m", 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = slow.Complete(ctx, &CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelTimeout)
}

func TestMockClientListsKnowledgeTitles(t *testing.T) {
	m := NewMockClient()
	out, err := m.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{
			Role: "user",
			Content: "How do I reset my password?\n\n" + KBMarker + "\n" +
				"- How to Reset Your Password (Relevance: 3.20): To reset your password...\n",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StopEndTurn, out.StopReason)
	assert.Contains(t, out.Text, "[MOCK]")
	assert.Contains(t, out.Text, "Next steps:\n- Read \"How to Reset Your Password\"")
	assert.Greater(t, out.InputTokens, 0)
}

func TestNewClientSelectsMock(t *testing.T) {
	c := NewClient(&config.Config{Mode: config.ModeMock})
	assert.IsType(t, &MockClient{}, c)

	c = NewClient(&config.Config{ModelAPIKey: "k", ModelBaseURL: "http://localhost", ModelTimeout: time.Second})
	assert.IsType(t, &OpenAIClient{}, c)
}
