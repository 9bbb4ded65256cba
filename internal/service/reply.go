package service

import (
	"strings"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
)

const (
	baseConfidence = 0.8

	// FallbackReply replaces an empty model answer.
	FallbackReply = "I apologize, but I'm having trouble processing your request. Let me escalate this to a human agent."
)

var (
	escalationPhrases = []string{"escalate", "human agent", "specialist", "supervisor"}
	actionHeaders     = []string{"Next steps:", "You can:"}
	bulletPrefixes    = []string{"-", "•", "*"}
)

// confidence scores a completion by how it stopped, clamped to [0, 1].
func confidence(stopReason string) float64 {
	c := baseConfidence
	switch stopReason {
	case llm.StopEndTurn, llm.StopStop:
		c += 0.15
	case llm.StopSequence:
		c += 0.05
	case llm.StopMaxTokens, llm.StopLength:
		c -= 0.2
	}
	return min(max(c, 0), 1)
}

// parsedReply is a model answer split into what the engine reports.
type parsedReply struct {
	Message  string
	Actions  []string
	Escalate bool
}

func parseReply(text string) parsedReply {
	if strings.TrimSpace(text) == "" {
		return parsedReply{Message: FallbackReply, Escalate: true}
	}
	return parsedReply{
		Message:  text,
		Actions:  suggestedActions(text),
		Escalate: mentionsEscalation(text),
	}
}

func mentionsEscalation(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range escalationPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// suggestedActions collects bullet lines that follow an action header.
func suggestedActions(text string) []string {
	var actions []string
	inList := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if isActionHeader(line) {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		item, ok := bulletText(line)
		if ok {
			if item != "" {
				actions = append(actions, item)
			}
			continue
		}
		if line != "" {
			inList = false
		}
	}
	return actions
}

func isActionHeader(line string) bool {
	for _, h := range actionHeaders {
		if strings.Contains(line, h) {
			return true
		}
	}
	return false
}

func bulletText(line string) (string, bool) {
	for _, p := range bulletPrefixes {
		if rest, ok := strings.CutPrefix(line, p); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}
