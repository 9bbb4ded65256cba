// Package sentiment classifies user messages with ordered keyword rules.
package sentiment

import (
	"strings"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// Rule assigns Label when at least MinHits distinct keywords occur.
type Rule struct {
	Label    domain.Sentiment
	Keywords []string
	MinHits  int
}

// DefaultRules are evaluated in order; the first matching rule wins.
var DefaultRules = []Rule{
	{
		Label:    domain.SentimentUrgent,
		Keywords: []string{"urgent", "emergency", "critical", "asap", "immediately", "broken", "not working"},
		MinHits:  1,
	},
	{
		Label: domain.SentimentNegative,
		Keywords: []string{
			"angry", "frustrated", "disappointed", "terrible", "awful", "worst",
			"horrible", "hate", "problem", "issue", "error", "failed",
		},
		MinHits: 2,
	},
	{
		Label:    domain.SentimentPositive,
		Keywords: []string{"thank", "thanks", "great", "excellent", "perfect", "amazing", "love", "appreciate"},
		MinHits:  1,
	},
}

// Classifier is a pure function of its rules and the input text.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over rules, or DefaultRules when none are given.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{rules: rules}
}

// Classify returns the label of the first rule that matches text.
func (c *Classifier) Classify(text string) domain.Sentiment {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		if hits(lower, r.Keywords, r.MinHits) {
			return r.Label
		}
	}
	return domain.SentimentNeutral
}

func hits(text string, keywords []string, need int) bool {
	if need <= 0 {
		need = 1
	}
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
			if n >= need {
				return true
			}
		}
	}
	return false
}

// Classify uses the default rules.
func Classify(text string) domain.Sentiment {
	return defaultClassifier.Classify(text)
}

var defaultClassifier = New()
