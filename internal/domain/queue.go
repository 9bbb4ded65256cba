package domain

import (
	"encoding/json"
	"time"
)

// QueueItem is one inbound channel event awaiting processing.
type QueueItem struct {
	// ID is the stream entry id; empty until enqueued.
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Attempt counts deliveries, starting at 1.
	Attempt int64 `json:"attempt"`
}

// Inbound is a queued payload decoded into a turn plus reply routing.
type Inbound struct {
	Turn   TurnRequest
	Target ReplyTarget
}

// ReplyTarget says where a reply for a queued turn is delivered.
type ReplyTarget struct {
	Channel  Channel `json:"channel"`
	TicketID int64   `json:"ticket_id,omitempty"`
	// Slack conversation and thread.
	SlackChannel string `json:"slack_channel,omitempty"`
	ThreadTS     string `json:"thread_ts,omitempty"`
	// Widget session the reply is pushed to.
	SessionID string `json:"session_id,omitempty"`
}
