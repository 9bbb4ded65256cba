// Package domain defines the core domain models for the helpdesk runtime.
package domain

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Channel identifies where a conversation originated.
type Channel string

const (
	ChannelWeb     Channel = "web"
	ChannelWidget  Channel = "widget"
	ChannelZendesk Channel = "zendesk"
	ChannelSlack   Channel = "slack"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWeb, ChannelWidget, ChannelZendesk, ChannelSlack:
		return true
	}
	return false
}

// Sentiment is the coarse emotional classification of a user message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUrgent   Sentiment = "urgent"
)

// Kind discriminates queued channel payloads.
type Kind string

const (
	KindZendesk Kind = "zendesk"
	KindSlack   Kind = "slack"
	KindWidget  Kind = "widget"
)

// Kinds lists every queue item kind accepted by the webhook endpoint.
var Kinds = []Kind{KindZendesk, KindSlack, KindWidget}

// ParseKind maps a webhook channel name to a queue item kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Metadata keys written by the runtime onto sessions.
const (
	MetaEscalated        = "escalated"
	MetaEscalationReason = "escalation_reason"
	MetaTicketID         = "ticket_id"
	MetaPriority         = "priority"
	MetaSlackChannel     = "slack_channel"
	MetaSlackThreadTS    = "slack_thread_ts"
)
