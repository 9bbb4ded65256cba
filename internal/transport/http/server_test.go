package http

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
	"github.com/xiaot623/gogo/helpdesk/internal/knowledge"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/internal/service"
	v1 "github.com/xiaot623/gogo/helpdesk/internal/transport/http/v1"
	"github.com/xiaot623/gogo/helpdesk/tests/helpers"
)

func newTestServer(t *testing.T, out *bytes.Buffer) http.Handler {
	t.Helper()
	st := helpers.NewTestSQLiteStore(t, store.Options{})
	q := helpers.NewTestQueue(t, queue.Options{})
	kb := knowledge.NewService(knowledge.NewMemoryBackend(), nil, nil)
	deps := v1.Deps{
		Engine:    service.NewEngine(st, kb, llm.NewMockClient(), nil, service.EngineOptions{}),
		Store:     st,
		Queue:     q,
		Knowledge: kb,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	}
	return NewServer(zerolog.New(out), deps, v1.Options{WebhookRateLimit: 1})
}

func TestServerAddsRequestIDAndLogs(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	id := rec.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatalf("expected request id header")
	}
	if !strings.Contains(logs.String(), `"request_id":"`+id+`"`) || !strings.Contains(logs.String(), `"uri":"/health"`) {
		t.Fatalf("access log missing request fields: %s", logs.String())
	}
}

func TestServerBodyLimit(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})

	big := `{"session_id":"s1","user_id":"u1","message":"` + strings.Repeat("a", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestServerRateLimitsWebhooks(t *testing.T) {
	srv := newTestServer(t, &bytes.Buffer{})

	limited := false
	for range 5 {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/slack", strings.NewReader(`{"challenge":"c"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	}
	if !limited {
		t.Fatalf("expected webhook requests to be rate limited")
	}
}
