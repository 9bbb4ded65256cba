package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
)

func TestConfidence(t *testing.T) {
	tests := []struct {
		stop string
		want float64
	}{
		{llm.StopEndTurn, 0.95},
		{llm.StopStop, 0.95},
		{llm.StopSequence, 0.85},
		{llm.StopMaxTokens, 0.6},
		{llm.StopLength, 0.6},
		{"", 0.8},
		{"tool_use", 0.8},
	}
	for _, tt := range tests {
		got := confidence(tt.stop)
		assert.InDelta(t, tt.want, got, 1e-9, tt.stop)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestParseReplyActions(t *testing.T) {
	text := "Sorry about that.\n\nNext steps:\n- Open Settings\n• Choose *Security*\n* Click reset\n\nAnything else?\n- not an action"
	got := parseReply(text)
	assert.Equal(t, text, got.Message)
	assert.Equal(t, []string{"Open Settings", "Choose *Security*", "Click reset"}, got.Actions)
	assert.False(t, got.Escalate)

	got = parseReply("**You can:**\n- track the parcel\n- contact the courier")
	assert.Equal(t, []string{"track the parcel", "contact the courier"}, got.Actions)

	got = parseReply("- a bullet with no header")
	assert.Empty(t, got.Actions)
}

func TestParseReplyEscalation(t *testing.T) {
	for _, text := range []string{
		"I'll escalate this right away.",
		"Let me connect you with a Human Agent.",
		"A billing specialist will reach out.",
		"I've notified my supervisor.",
	} {
		assert.True(t, parseReply(text).Escalate, text)
	}
	assert.False(t, parseReply("Your order shipped yesterday.").Escalate)
}

func TestParseReplyEmptyFallsBack(t *testing.T) {
	got := parseReply("  \n ")
	assert.Equal(t, FallbackReply, got.Message)
	assert.True(t, got.Escalate)
	assert.Empty(t, got.Actions)
}
