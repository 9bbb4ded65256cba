package llm

import (
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/gogo/helpdesk/internal/config"
)

// NewClient creates a Client from configuration. HELPDESK_MODE=MOCK
// selects the MockClient; otherwise an OpenAI-compatible client is built.
func NewClient(cfg *config.Config) Client {
	if cfg.MockMode() {
		log.Info().Msg("HELPDESK_MODE=MOCK detected, using mock LLM client")
		return NewMockClient()
	}
	return NewOpenAIClient(cfg.ModelAPIKey, cfg.ModelBaseURL, cfg.ModelName, cfg.ModelTimeout)
}
