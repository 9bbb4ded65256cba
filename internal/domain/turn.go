package domain

// TurnRequest is one user message handed to the response engine.
type TurnRequest struct {
	SessionID string
	UserID    string
	Channel   Channel
	Text      string
	Metadata  map[string]any
}

// TokenUsage reports model token consumption for one turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// TurnResult is the engine's answer to one turn.
type TurnResult struct {
	SessionID        string     `json:"session_id"`
	Message          string     `json:"message"`
	Sentiment        Sentiment  `json:"sentiment"`
	Confidence       float64    `json:"confidence"`
	ShouldEscalate   bool       `json:"should_escalate"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
	KBArticles       []Article  `json:"kb_articles,omitempty"`
	TokensUsed       TokenUsage `json:"tokens_used"`
	ProcessingTimeMS float64    `json:"processing_time_ms"`
}
