package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// Chat answers one message synchronously.
// POST /api/v1/chat
func (h *Handler) Chat(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, domain.NewValidationError("", "invalid request body"))
	}
	if err := req.Validate(); err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.opts.RequestTimeout)
	defer cancel()

	res, err := h.deps.Engine.Process(ctx, req.TurnRequest())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// GetHistory returns a conversation's messages, oldest first.
// GET /api/v1/chat/:session_id
func (h *Handler) GetHistory(c echo.Context) error {
	sessionID := c.Param("session_id")
	msgs, err := h.deps.Store.History(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(http.StatusOK, domain.HistoryResponse{SessionID: sessionID, Messages: msgs})
}

// EndSession deletes a conversation.
// DELETE /api/v1/chat/:session_id
func (h *Handler) EndSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	if err := h.deps.Store.End(c.Request().Context(), sessionID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ended", "session_id": sessionID})
}

// Stream upgrades to a websocket that receives replies to queued widget
// messages for the session.
// GET /api/v1/chat/:session_id/stream
func (h *Handler) Stream(c echo.Context) error {
	if h.deps.Hub == nil {
		return c.JSON(http.StatusNotFound, domain.ErrorBody{Error: "not_found", Message: "streaming is disabled"})
	}
	sessionID := c.Param("session_id")
	ctx := c.Request().Context()
	if err := h.deps.Hub.Serve(ctx, c.Response(), c.Request(), sessionID); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("websocket upgrade failed")
	}
	return nil
}
