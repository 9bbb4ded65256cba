package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTurn("web", OutcomeSuccess, 300*time.Millisecond)
	m.ObserveTurn("web", OutcomeSuccess, time.Second)
	m.ObserveTurn("slack", OutcomeError, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TurnsProcessed.WithLabelValues(OutcomeSuccess, "web")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsProcessed.WithLabelValues(OutcomeError, "slack")))
}

func TestObserveTokensAndSentiment(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveTokens(100, 20)
	m.ObserveTokens(50, 5)
	m.ObserveSentiment("urgent")
	m.SearchFailed()

	assert.Equal(t, 150.0, testutil.ToFloat64(m.TokensUsed.WithLabelValues("input")))
	assert.Equal(t, 25.0, testutil.ToFloat64(m.TokensUsed.WithLabelValues("output")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sentiment.WithLabelValues("urgent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("web", OutcomeSuccess, time.Second)
	m.ObserveTokens(1, 1)
	m.ObserveSentiment("neutral")
	m.SearchFailed()
}

func TestDefaultIsSingleton(t *testing.T) {
	a := Default()
	b := Default()
	require.Same(t, a, b)

	a.ActiveSessions.Set(3)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "helpdesk_active_sessions 3")
	assert.Contains(t, string(body), "go_goroutines")
}
