package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HELPDESK_MODE", "MOCK")

	cfg, err := Load("testdata/does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 10000, cfg.MaxConcurrentSessions)
	assert.Equal(t, 50, cfg.SessionHistoryLimit)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, int64(100000), cfg.QueueMaxLen)
	assert.Equal(t, 100, cfg.WorkerPoolSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Minute, cfg.WorkerTurnTimeout)
	assert.Equal(t, 20*time.Second, cfg.ClaimHeartbeat())
	assert.True(t, cfg.MockMode())
}

func TestValidateTurnMustOutlastModelCall(t *testing.T) {
	t.Setenv("HELPDESK_MODE", "MOCK")
	t.Setenv("MODEL_TIMEOUT", "90s")
	t.Setenv("WORKER_TURN_TIMEOUT", "60s")

	_, err := Load("testdata/does-not-exist.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_TURN_TIMEOUT")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "sk-test")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "3")
	t.Setenv("QUEUE_CLAIM_TIMEOUT", "15s")
	t.Setenv("STORE_URL", "file:helpdesk.db")

	cfg, err := Load("testdata/does-not-exist.env")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxConcurrentSessions)
	assert.Equal(t, 15*time.Second, cfg.QueueClaimTimeout)
	assert.Equal(t, "file:helpdesk.db", cfg.StoreURL)
	assert.False(t, cfg.MockMode())
}

func TestValidateRequiresModelKey(t *testing.T) {
	t.Setenv("MODEL_API_KEY", "")
	t.Setenv("HELPDESK_MODE", "")

	_, err := Load("testdata/does-not-exist.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MODEL_API_KEY")
}

func TestValidateRejectsNonPositiveCeiling(t *testing.T) {
	cfg := &Config{
		Mode:                ModeMock,
		SessionHistoryLimit: 50,
		QueueMaxAttempts:    5,
		QueueBlockTimeout:   time.Second,
		StoreURL:            "redis://localhost:6379/0",
		QueueURL:            "redis://localhost:6379/0",
		SearchURL:           "memory://",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONCURRENT_SESSIONS")
}
