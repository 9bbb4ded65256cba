// Package config provides configuration for the helpdesk runtime.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the runtime configuration.
type Config struct {
	// Server settings
	HTTPPort       int           `env:"HTTP_PORT" envDefault:"8080"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	AdminAPIKey    string        `env:"ADMIN_API_KEY"`
	// Requests per second per client IP on webhook routes; 0 disables limiting.
	WebhookRateLimit float64 `env:"WEBHOOK_RATE_LIMIT" envDefault:"50"`

	// Language model
	Mode             string        `env:"HELPDESK_MODE"`
	ModelAPIKey      string        `env:"MODEL_API_KEY"`
	ModelBaseURL     string        `env:"MODEL_BASE_URL" envDefault:"https://api.anthropic.com/v1"`
	ModelName        string        `env:"MODEL_NAME" envDefault:"claude-3-5-sonnet-20241022"`
	ModelMaxTokens   int           `env:"MODEL_MAX_TOKENS" envDefault:"4000"`
	ModelTemperature float32       `env:"MODEL_TEMPERATURE" envDefault:"0.7"`
	ModelTimeout     time.Duration `env:"MODEL_TIMEOUT" envDefault:"60s"`

	// Session store
	StoreURL              string        `env:"STORE_URL" envDefault:"redis://localhost:6379/0"`
	MaxConcurrentSessions int           `env:"MAX_CONCURRENT_SESSIONS" envDefault:"10000"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionHistoryLimit   int           `env:"SESSION_HISTORY_LIMIT" envDefault:"50"`

	// Ingestion queue
	QueueURL          string        `env:"QUEUE_URL" envDefault:"redis://localhost:6379/0"`
	QueueStream       string        `env:"QUEUE_STREAM" envDefault:"agent_messages"`
	QueueGroup        string        `env:"QUEUE_GROUP" envDefault:"workers"`
	QueueMaxLen       int64         `env:"QUEUE_MAX_LEN" envDefault:"100000"`
	QueueBlockTimeout time.Duration `env:"QUEUE_BLOCK_TIMEOUT" envDefault:"1s"`
	QueueClaimTimeout time.Duration `env:"QUEUE_CLAIM_TIMEOUT" envDefault:"60s"`
	QueueMaxAttempts  int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	QueueMaxAge       time.Duration `env:"QUEUE_MAX_AGE" envDefault:"24h"`
	WorkerPoolSize    int           `env:"WORKER_POOL_SIZE" envDefault:"100"`
	WorkerTurnTimeout time.Duration `env:"WORKER_TURN_TIMEOUT" envDefault:"2m"`

	// Knowledge search
	SearchURL       string `env:"SEARCH_URL" envDefault:"http://localhost:9200"`
	SearchIndex     string `env:"SEARCH_INDEX" envDefault:"kb_articles"`
	KnowledgeSource string `env:"KNOWLEDGE_SOURCE"`

	// Outbound channels
	ZendeskURL      string `env:"ZENDESK_URL"`
	ZendeskEmail    string `env:"ZENDESK_EMAIL"`
	ZendeskAPIToken string `env:"ZENDESK_API_TOKEN"`
	SlackAPIURL     string `env:"SLACK_API_URL" envDefault:"https://slack.com/api"`
	SlackBotToken   string `env:"SLACK_BOT_TOKEN"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// ModeMock selects the mock model client.
const ModeMock = "MOCK"

// Load reads an optional .env file and then parses the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// A missing .env file is normal outside local development.
		_ = godotenv.Load(f)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxConcurrentSessions <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_SESSIONS must be positive"))
	}
	if c.SessionHistoryLimit <= 0 {
		errs = append(errs, errors.New("SESSION_HISTORY_LIMIT must be positive"))
	}
	if c.WorkerPoolSize < 0 {
		errs = append(errs, errors.New("WORKER_POOL_SIZE must not be negative"))
	}
	if c.QueueMaxAttempts <= 0 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be positive"))
	}
	if c.QueueBlockTimeout <= 0 {
		errs = append(errs, errors.New("QUEUE_BLOCK_TIMEOUT must be positive"))
	}
	if c.QueueClaimTimeout <= 0 {
		errs = append(errs, errors.New("QUEUE_CLAIM_TIMEOUT must be positive"))
	}
	if c.WorkerTurnTimeout > 0 && c.WorkerTurnTimeout <= c.ModelTimeout {
		errs = append(errs, errors.New("WORKER_TURN_TIMEOUT must exceed MODEL_TIMEOUT"))
	}
	if !c.MockMode() && c.ModelAPIKey == "" {
		errs = append(errs, errors.New("MODEL_API_KEY is required unless HELPDESK_MODE=MOCK"))
	}
	for name, raw := range map[string]string{"STORE_URL": c.StoreURL, "QUEUE_URL": c.QueueURL, "SEARCH_URL": c.SearchURL} {
		if _, err := url.Parse(raw); err != nil || raw == "" {
			errs = append(errs, fmt.Errorf("%s is not a valid URL: %q", name, raw))
		}
	}
	return errors.Join(errs...)
}

// ClaimHeartbeat is how often a worker renews its claim on an in-flight item.
func (c *Config) ClaimHeartbeat() time.Duration {
	return c.QueueClaimTimeout / 3
}

// MockMode reports whether the mock model client is selected.
func (c *Config) MockMode() bool {
	return strings.EqualFold(c.Mode, ModeMock)
}
