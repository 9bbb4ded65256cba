package v1

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/service"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// Webhook validates a channel event and queues it for the workers.
// POST /api/v1/webhooks/:channel
func (h *Handler) Webhook(c echo.Context) error {
	name := c.Param("channel")
	kind, ok := domain.ParseKind(name)
	if !ok {
		return c.JSON(http.StatusNotFound, domain.ErrorBody{Error: "unknown_channel", Message: "unknown channel " + name})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeError(c, domain.NewValidationError("", "unreadable body"))
	}
	adm, err := service.Admit(kind, body)
	if err != nil {
		return writeError(c, err)
	}
	switch {
	case adm.Challenge != "":
		return c.JSON(http.StatusOK, map[string]string{"challenge": adm.Challenge})
	case adm.Ignore:
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	ctx := c.Request().Context()
	item := &domain.QueueItem{Kind: kind, Payload: json.RawMessage(body)}
	if err := h.deps.Queue.Enqueue(ctx, item); err != nil {
		return writeError(c, err)
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.QueueEnqueued.WithLabelValues(string(kind)).Inc()
	}
	log.FromCtx(ctx).Debug().Str("item_id", item.ID).Str("kind", string(kind)).Msg("webhook queued")

	return c.JSON(http.StatusAccepted, domain.WebhookAccepted{Status: "queued", Channel: string(kind), ItemID: item.ID})
}
