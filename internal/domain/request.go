package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxMessageLength is the longest accepted user message, in characters.
const MaxMessageLength = 4000

// ChatRequest is the body of a synchronous chat call.
type ChatRequest struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Channel   string         `json:"channel"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks required fields, the channel and the message length.
// Surrounding whitespace does not count toward the message.
func (r *ChatRequest) Validate() error {
	msg := strings.TrimSpace(r.Message)
	switch {
	case r.SessionID == "":
		return NewValidationError("session_id", "is required")
	case r.UserID == "":
		return NewValidationError("user_id", "is required")
	case msg == "":
		return NewValidationError("message", "is required")
	case utf8.RuneCountInString(msg) > MaxMessageLength:
		return NewValidationError("message", "exceeds 4000 characters")
	case r.Channel != "" && !Channel(r.Channel).Valid():
		return NewValidationError("channel", "must be one of web, widget, zendesk, slack")
	}
	return nil
}

// TurnRequest converts the chat body into an engine turn.
func (r *ChatRequest) TurnRequest() TurnRequest {
	ch := Channel(r.Channel)
	if ch == "" {
		ch = ChannelWeb
	}
	return TurnRequest{
		SessionID: r.SessionID,
		UserID:    r.UserID,
		Channel:   ch,
		Text:      strings.TrimSpace(r.Message),
		Metadata:  r.Metadata,
	}
}

// HistoryResponse lists the messages of one session.
type HistoryResponse struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

// WebhookAccepted is returned once a channel event is queued.
type WebhookAccepted struct {
	Status  string `json:"status"`
	Channel string `json:"channel"`
	ItemID  string `json:"item_id"`
}

// ErrorBody is the JSON error envelope returned to clients.
type ErrorBody struct {
	Error          string `json:"error"`
	Message        string `json:"message"`
	Retry          string `json:"retry,omitempty"`
	Fallback       string `json:"fallback_message,omitempty"`
	ShouldEscalate bool   `json:"should_escalate,omitempty"`
}

// BulkIndexRequest carries articles for the admin bulk index endpoint.
type BulkIndexRequest struct {
	Articles []Article `json:"articles"`
}

// Stats summarizes runtime state for the admin endpoint.
type Stats struct {
	ActiveSessions int64   `json:"active_sessions"`
	QueueLength    int64   `json:"queue_length"`
	QueuePending   int64   `json:"queue_pending"`
	DeadLetters    int64   `json:"dead_letters"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}
