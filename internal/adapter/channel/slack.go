package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// SlackClient posts replies with chat.postMessage.
type SlackClient struct {
	apiURL string
	token  string
	http   *http.Client
}

// NewSlackClient creates a client for the Slack Web API at apiURL.
func NewSlackClient(apiURL, botToken string, timeout time.Duration) *SlackClient {
	return &SlackClient{
		apiURL: strings.TrimRight(apiURL, "/"),
		token:  botToken,
		http:   &http.Client{Timeout: timeout},
	}
}

type slackPostMessage struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// PostMessage sends text to a channel, threaded under threadTS when set.
func (s *SlackClient) PostMessage(ctx context.Context, channel, threadTS, text string) error {
	data, err := json.Marshal(slackPostMessage{Channel: channel, Text: text, ThreadTS: threadTS})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/chat.postMessage", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.token)

	body, err := do(s.http, req)
	if err != nil {
		return err
	}
	var out slackResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return &apiError{Reason: out.Error, Retryable: out.Error == "ratelimited"}
	}
	return nil
}

// Send implements Sender.
func (s *SlackClient) Send(ctx context.Context, target domain.ReplyTarget, text string) error {
	if target.SlackChannel == "" {
		return &apiError{Reason: "missing slack channel"}
	}
	return s.PostMessage(ctx, target.SlackChannel, target.ThreadTS, text)
}
