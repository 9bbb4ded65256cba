// Package metrics holds the Prometheus collectors for the helpdesk runtime.
//
// Collectors live on a Metrics value rather than in package globals.
// Default returns the process-wide instance, registered exactly once;
// tests build isolated instances with New.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "helpdesk"

// Turn outcomes.
const (
	OutcomeSuccess    = "success"
	OutcomeError      = "error"
	OutcomeEscalated  = "escalated"
	OutcomeDeadLetter = "dead_letter"
)

// Metrics is the set of runtime collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	TurnsProcessed   *prometheus.CounterVec
	TurnLatency      *prometheus.HistogramVec
	ActiveSessions   prometheus.Gauge
	Sentiment        *prometheus.CounterVec
	TokensUsed       *prometheus.CounterVec
	SearchFailures   prometheus.Counter
	QueueDepth       prometheus.Gauge
	QueuePending     prometheus.Gauge
	QueueEnqueued    *prometheus.CounterVec
	DeliveryFailures *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on a dedicated
// registry that also carries the Go and process collectors.
func Default() *Metrics {
	defaultOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		defaultMetrics = New(reg)
	})
	return defaultMetrics
}

// New creates collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		TurnsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_processed_total",
			Help:      "Total number of conversation turns processed.",
		}, []string{"outcome", "channel"}),
		TurnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Turn processing latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"channel"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live conversations.",
		}),
		Sentiment: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentiment_total",
			Help:      "Distribution of detected sentiment.",
		}, []string{"sentiment"}),
		TokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Model tokens consumed.",
		}, []string{"type"}),
		SearchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_search_failures_total",
			Help:      "Knowledge searches that failed open.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_length",
			Help:      "Items in the ingestion stream.",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending",
			Help:      "Items delivered but not yet acknowledged.",
		}),
		QueueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Channel events accepted into the queue.",
		}, []string{"kind"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_delivery_failures_total",
			Help:      "Replies that could not be delivered to their channel.",
		}, []string{"channel"}),
	}
	reg.MustRegister(
		m.TurnsProcessed, m.TurnLatency, m.ActiveSessions, m.Sentiment, m.TokensUsed,
		m.SearchFailures, m.QueueDepth, m.QueuePending, m.QueueEnqueued, m.DeliveryFailures,
	)
	return m
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(channel, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TurnsProcessed.WithLabelValues(outcome, channel).Inc()
	m.TurnLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// ObserveSentiment counts a classified message.
func (m *Metrics) ObserveSentiment(sentiment string) {
	if m == nil {
		return
	}
	m.Sentiment.WithLabelValues(sentiment).Inc()
}

// ObserveTokens adds model token usage.
func (m *Metrics) ObserveTokens(input, output int) {
	if m == nil {
		return
	}
	m.TokensUsed.WithLabelValues("input").Add(float64(input))
	m.TokensUsed.WithLabelValues("output").Add(float64(output))
}

// SearchFailed counts a fail-open knowledge search.
func (m *Metrics) SearchFailed() {
	if m == nil {
		return
	}
	m.SearchFailures.Inc()
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
