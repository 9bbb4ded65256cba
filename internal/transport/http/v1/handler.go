// Package v1 provides the HTTP handlers of the helpdesk gateway.
package v1

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/channel"
	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/knowledge"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
)

// Processor answers one chat turn.
type Processor interface {
	Process(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
}

// Deps are the components the handlers call into.
type Deps struct {
	Engine    Processor
	Store     store.SessionStore
	Queue     queue.Queue
	Knowledge *knowledge.Service
	Hub       *channel.Hub
	Metrics   *metrics.Metrics
}

// Options tune request handling.
type Options struct {
	AdminAPIKey string
	// WebhookRateLimit is requests per second per client IP; zero disables it.
	WebhookRateLimit float64
	RequestTimeout   time.Duration
}

// Handler handles HTTP requests.
type Handler struct {
	deps      Deps
	opts      Options
	startedAt time.Time
}

// NewHandler creates a new handler.
func NewHandler(deps Deps, opts Options) *Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Handler{deps: deps, opts: opts, startedAt: time.Now()}
}

// RegisterRoutes registers every route with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	if h.deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.deps.Metrics.Handler()))
	}

	api := e.Group("/api/v1")
	api.POST("/chat", h.Chat)
	api.GET("/chat/:session_id", h.GetHistory)
	api.DELETE("/chat/:session_id", h.EndSession)
	api.GET("/chat/:session_id/stream", h.Stream)

	hooks := api.Group("/webhooks")
	if h.opts.WebhookRateLimit > 0 {
		hooks.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(h.opts.WebhookRateLimit))))
	}
	hooks.POST("/:channel", h.Webhook)

	admin := api.Group("/admin", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:X-API-Key",
		Validator: h.validateAdminKey,
	}))
	admin.POST("/knowledge-base/index", h.RebuildIndex)
	admin.POST("/knowledge-base/articles", h.BulkIndex)
	admin.GET("/sessions/active", h.ActiveSessions)
	admin.GET("/stats", h.Stats)
}

// validateAdminKey rejects every key when no admin key is configured.
func (h *Handler) validateAdminKey(key string, _ echo.Context) (bool, error) {
	if h.opts.AdminAPIKey == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.opts.AdminAPIKey)) == 1, nil
}

// Health returns liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   "0.1.0",
		"timestamp": time.Now().UTC(),
	})
}
