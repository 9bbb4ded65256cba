package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

const (
	defaultActiveLimit = 100
	maxActiveLimit     = 1000
)

// RebuildIndex reloads the knowledge base from its source.
// POST /api/v1/admin/knowledge-base/index
func (h *Handler) RebuildIndex(c echo.Context) error {
	n, err := h.deps.Knowledge.RebuildIndex(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "rebuilt", "articles": n})
}

// BulkIndex adds or replaces articles.
// POST /api/v1/admin/knowledge-base/articles
func (h *Handler) BulkIndex(c echo.Context) error {
	var req domain.BulkIndexRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("", "invalid request body"))
	}
	if len(req.Articles) == 0 {
		return writeError(c, domain.NewValidationError("articles", "is required"))
	}
	if err := h.deps.Knowledge.BulkIndex(c.Request().Context(), req.Articles); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "indexed", "articles": len(req.Articles)})
}

// ActiveSessions lists live conversations without their messages.
// GET /api/v1/admin/sessions/active?limit=
func (h *Handler) ActiveSessions(c echo.Context) error {
	limit := defaultActiveLimit
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = min(val, maxActiveLimit)
		}
	}
	ctx := c.Request().Context()
	sessions, err := h.deps.Store.ListActive(ctx, limit)
	if err != nil {
		return writeError(c, err)
	}
	total, err := h.deps.Store.ActiveCount(ctx)
	if err != nil {
		return writeError(c, err)
	}
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions, "total": total})
}

// Stats summarizes sessions and queue depth.
// GET /api/v1/admin/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	active, err := h.deps.Store.ActiveCount(ctx)
	if err != nil {
		return writeError(c, err)
	}
	qs, err := h.deps.Queue.Stats(ctx)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, domain.Stats{
		ActiveSessions: active,
		QueueLength:    qs.Length,
		QueuePending:   qs.Pending,
		DeadLetters:    qs.DeadLetters,
		UptimeSeconds:  time.Since(h.startedAt).Seconds(),
	})
}
