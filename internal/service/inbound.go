package service

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// ZendeskWebhook is the ticket update Zendesk posts to us.
type ZendeskWebhook struct {
	TicketID    int64  `json:"ticket_id"`
	RequesterID string `json:"requester_id"`
	Comment     string `json:"comment"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// SlackWebhook is an Events API envelope.
type SlackWebhook struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge,omitempty"`
	Event     SlackEvent `json:"event"`
}

// SlackEvent is the inner message event.
type SlackEvent struct {
	Type     string `json:"type"`
	Channel  string `json:"channel"`
	User     string `json:"user"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	BotID    string `json:"bot_id,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
}

// WidgetMessage is posted by the embedded chat widget.
type WidgetMessage struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Admission is the gateway's verdict on a webhook body.
type Admission struct {
	// Challenge is set for handshakes, which are echoed and not queued.
	Challenge string
	// Ignore marks events that are acknowledged but not queued.
	Ignore bool
}

type variant struct {
	admit  func(body []byte) (Admission, error)
	decode func(payload json.RawMessage) (*domain.Inbound, error)
}

// variants holds one entry per queue item kind.
var variants = map[domain.Kind]variant{
	domain.KindZendesk: {admit: admitZendesk, decode: decodeZendesk},
	domain.KindSlack:   {admit: admitSlack, decode: decodeSlack},
	domain.KindWidget:  {admit: admitWidget, decode: decodeWidget},
}

var stripHTML = bluemonday.StrictPolicy()

// Admit validates a webhook body for kind before it is queued.
func Admit(kind domain.Kind, body []byte) (Admission, error) {
	v, ok := variants[kind]
	if !ok {
		return Admission{}, domain.NewValidationError("channel", fmt.Sprintf("unknown channel %q", kind))
	}
	return v.admit(body)
}

// DecodeInbound turns a queued item into a turn and its reply target.
func DecodeInbound(item *domain.QueueItem) (*domain.Inbound, error) {
	v, ok := variants[item.Kind]
	if !ok {
		return nil, domain.NewValidationError("kind", fmt.Sprintf("unknown kind %q", item.Kind))
	}
	return v.decode(item.Payload)
}

func unmarshal(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewValidationError("", "invalid JSON payload")
	}
	return nil
}

// cleanText strips markup from channel text and checks its length.
func cleanText(field, s string) (string, error) {
	s = strings.TrimSpace(html.UnescapeString(stripHTML.Sanitize(s)))
	switch {
	case s == "":
		return "", domain.NewValidationError(field, "is required")
	case utf8.RuneCountInString(s) > domain.MaxMessageLength:
		return "", domain.NewValidationError(field, "exceeds 4000 characters")
	}
	return s, nil
}

func admitZendesk(body []byte) (Admission, error) {
	_, err := decodeZendesk(body)
	return Admission{}, err
}

func decodeZendesk(payload json.RawMessage) (*domain.Inbound, error) {
	var w ZendeskWebhook
	if err := unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.TicketID <= 0 {
		return nil, domain.NewValidationError("ticket_id", "is required")
	}
	text, err := cleanText("comment", w.Comment)
	if err != nil {
		return nil, err
	}
	user := w.RequesterID
	if user == "" {
		user = fmt.Sprintf("zendesk-requester-%d", w.TicketID)
	}
	meta := map[string]any{domain.MetaTicketID: w.TicketID}
	if w.Priority != "" {
		meta[domain.MetaPriority] = w.Priority
	}
	sessionID := fmt.Sprintf("zendesk-%d", w.TicketID)
	return &domain.Inbound{
		Turn: domain.TurnRequest{
			SessionID: sessionID,
			UserID:    user,
			Channel:   domain.ChannelZendesk,
			Text:      text,
			Metadata:  meta,
		},
		Target: domain.ReplyTarget{Channel: domain.ChannelZendesk, TicketID: w.TicketID, SessionID: sessionID},
	}, nil
}

func admitSlack(body []byte) (Admission, error) {
	var w SlackWebhook
	if err := unmarshal(body, &w); err != nil {
		return Admission{}, err
	}
	if w.Challenge != "" {
		return Admission{Challenge: w.Challenge}, nil
	}
	if w.Event.BotID != "" || w.Event.Subtype == "bot_message" {
		return Admission{Ignore: true}, nil
	}
	_, err := decodeSlack(body)
	return Admission{}, err
}

func decodeSlack(payload json.RawMessage) (*domain.Inbound, error) {
	var w SlackWebhook
	if err := unmarshal(payload, &w); err != nil {
		return nil, err
	}
	ev := w.Event
	if ev.Channel == "" {
		return nil, domain.NewValidationError("event.channel", "is required")
	}
	if ev.User == "" {
		return nil, domain.NewValidationError("event.user", "is required")
	}
	text, err := cleanText("event.text", ev.Text)
	if err != nil {
		return nil, err
	}
	thread := ev.ThreadTS
	if thread == "" {
		thread = ev.TS
	}
	sessionID := "slack-" + ev.Channel
	if thread != "" {
		sessionID += "-" + thread
	}
	return &domain.Inbound{
		Turn: domain.TurnRequest{
			SessionID: sessionID,
			UserID:    ev.User,
			Channel:   domain.ChannelSlack,
			Text:      text,
			Metadata: map[string]any{
				domain.MetaSlackChannel:  ev.Channel,
				domain.MetaSlackThreadTS: thread,
			},
		},
		Target: domain.ReplyTarget{Channel: domain.ChannelSlack, SlackChannel: ev.Channel, ThreadTS: thread, SessionID: sessionID},
	}, nil
}

func admitWidget(body []byte) (Admission, error) {
	_, err := decodeWidget(body)
	return Admission{}, err
}

func decodeWidget(payload json.RawMessage) (*domain.Inbound, error) {
	var w WidgetMessage
	if err := unmarshal(payload, &w); err != nil {
		return nil, err
	}
	if w.SessionID == "" {
		return nil, domain.NewValidationError("session_id", "is required")
	}
	if w.UserID == "" {
		return nil, domain.NewValidationError("user_id", "is required")
	}
	text, err := cleanText("message", w.Message)
	if err != nil {
		return nil, err
	}
	return &domain.Inbound{
		Turn: domain.TurnRequest{
			SessionID: w.SessionID,
			UserID:    w.UserID,
			Channel:   domain.ChannelWidget,
			Text:      text,
			Metadata:  w.Metadata,
		},
		Target: domain.ReplyTarget{Channel: domain.ChannelWidget, SessionID: w.SessionID},
	}, nil
}
