package v1

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

const readyTimeout = 2 * time.Second

// Ready reports reachability of the store, search index and queue.
// GET /ready
func (h *Handler) Ready(c echo.Context) error {
	checks := map[string]func(context.Context) error{
		"store":  h.deps.Store.Ping,
		"search": h.deps.Knowledge.Ping,
		"queue":  h.deps.Queue.Ping,
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), readyTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(checks))
		ready   = true
	)
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			status := "ok"
			if err := check(ctx); err != nil {
				log.FromCtx(ctx).Warn().Err(err).Str("check", name).Msg("readiness check failed")
				status = "unavailable"
			}
			mu.Lock()
			defer mu.Unlock()
			results[name] = status
			if status != "ok" {
				ready = false
			}
			return nil
		})
	}
	_ = g.Wait()

	code, status := http.StatusOK, "ready"
	if !ready {
		code, status = http.StatusServiceUnavailable, "not_ready"
	}
	return c.JSON(code, map[string]any{"status": status, "checks": results})
}
