package domain

import "time"

// Message is one turn in a conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the state of one conversation.
type Session struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id"`
	Channel        Channel        `json:"channel"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	Messages       []Message      `json:"messages"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Escalated reports whether the session was flagged for a human.
func (s *Session) Escalated() bool {
	if s == nil || s.Metadata == nil {
		return false
	}
	v, _ := s.Metadata[MetaEscalated].(bool)
	return v
}

// TrimHistory keeps the most recent limit messages, preserving order.
func TrimHistory(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
