package service

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

func TestAdmitSlackChallenge(t *testing.T) {
	body := `{"token":"x","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`
	adm, err := Admit(domain.KindSlack, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", adm.Challenge)
	assert.False(t, adm.Ignore)
}

func TestAdmitSlackIgnoresBotMessages(t *testing.T) {
	body := `{"type":"event_callback","event":{"type":"message","channel":"C1","text":"our own reply","ts":"1.2","bot_id":"B1"}}`
	adm, err := Admit(domain.KindSlack, []byte(body))
	require.NoError(t, err)
	assert.True(t, adm.Ignore)
}

func TestAdmitRejectsBadPayloads(t *testing.T) {
	tests := []struct {
		kind domain.Kind
		body string
	}{
		{domain.KindZendesk, `{"ticket_id":0,"comment":"hi"}`},
		{domain.KindZendesk, `{"ticket_id":5,"comment":"   "}`},
		{domain.KindZendesk, `not json`},
		{domain.KindSlack, `{"type":"event_callback","event":{"type":"message","user":"U1","text":"hi"}}`},
		{domain.KindWidget, `{"session_id":"w1","message":"hi"}`},
		{domain.KindWidget, `{"session_id":"w1","user_id":"u","message":"` + strings.Repeat("a", domain.MaxMessageLength+1) + `"}`},
		{"fax", `{}`},
	}
	for _, tt := range tests {
		_, err := Admit(tt.kind, []byte(tt.body))
		require.Error(t, err, "%s %s", tt.kind, tt.body)
		assert.True(t, errors.Is(err, domain.ErrValidation))
	}
}

func TestDecodeZendesk(t *testing.T) {
	item := &domain.QueueItem{
		Kind:    domain.KindZendesk,
		Payload: json.RawMessage(`{"ticket_id":42,"requester_id":"r-9","comment":"<p>My order is <b>late</b> &amp; I need it</p>","priority":"high","status":"open"}`),
	}
	in, err := DecodeInbound(item)
	require.NoError(t, err)

	assert.Equal(t, "zendesk-42", in.Turn.SessionID)
	assert.Equal(t, "r-9", in.Turn.UserID)
	assert.Equal(t, domain.ChannelZendesk, in.Turn.Channel)
	assert.Equal(t, "My order is late & I need it", in.Turn.Text)
	assert.EqualValues(t, 42, in.Turn.Metadata[domain.MetaTicketID])
	assert.Equal(t, "high", in.Turn.Metadata[domain.MetaPriority])
	assert.Equal(t, domain.ReplyTarget{Channel: domain.ChannelZendesk, TicketID: 42, SessionID: "zendesk-42"}, in.Target)
}

func TestDecodeSlackThreads(t *testing.T) {
	item := &domain.QueueItem{
		Kind:    domain.KindSlack,
		Payload: json.RawMessage(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U7","text":"refund please","ts":"1700.2","thread_ts":"1700.1"}}`),
	}
	in, err := DecodeInbound(item)
	require.NoError(t, err)
	assert.Equal(t, "slack-C1-1700.1", in.Turn.SessionID)
	assert.Equal(t, "U7", in.Turn.UserID)
	assert.Equal(t, "refund please", in.Turn.Text)
	assert.Equal(t, "1700.1", in.Target.ThreadTS)
	assert.Equal(t, "C1", in.Target.SlackChannel)

	item.Payload = json.RawMessage(`{"type":"event_callback","event":{"type":"message","channel":"C1","user":"U7","text":"hello","ts":"1800.5"}}`)
	in, err = DecodeInbound(item)
	require.NoError(t, err)
	assert.Equal(t, "1800.5", in.Target.ThreadTS)
}

func TestDecodeWidget(t *testing.T) {
	item := &domain.QueueItem{
		Kind:    domain.KindWidget,
		Payload: json.RawMessage(`{"session_id":"w-1","user_id":"visitor","message":"Do you ship to Canada?","metadata":{"page":"/shipping"}}`),
	}
	in, err := DecodeInbound(item)
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelWidget, in.Turn.Channel)
	assert.Equal(t, "/shipping", in.Turn.Metadata["page"])
	assert.Equal(t, domain.ReplyTarget{Channel: domain.ChannelWidget, SessionID: "w-1"}, in.Target)
}

func TestDecodeUnknownKind(t *testing.T) {
	_, err := DecodeInbound(&domain.QueueItem{Kind: "carrier-pigeon", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
