package v1

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/service"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// statusClientClosedRequest is logged when the caller hangs up first.
const statusClientClosedRequest = 499

const (
	capacityRetryAfter = 30
	outageRetryAfter   = 5
)

// writeError maps an error kind to a status code and a client-safe body.
func writeError(c echo.Context, err error) error {
	var (
		status int
		body   domain.ErrorBody
		retry  int
	)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status, body = http.StatusBadRequest, domain.ErrorBody{Error: "invalid_request", Message: verr.Error()}
	case errors.Is(err, domain.ErrValidation):
		status, body = http.StatusBadRequest, domain.ErrorBody{Error: "invalid_request", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		status, body = http.StatusNotFound, domain.ErrorBody{Error: "not_found", Message: "session not found"}
	case errors.Is(err, domain.ErrCapacityExceeded):
		retry = capacityRetryAfter
		status, body = http.StatusServiceUnavailable, domain.ErrorBody{
			Error:   "capacity_exceeded",
			Message: "too many active conversations",
		}
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrQueueUnavailable), errors.Is(err, domain.ErrSearchUnavailable):
		retry = outageRetryAfter
		status, body = http.StatusServiceUnavailable, domain.ErrorBody{
			Error:   "service_unavailable",
			Message: "a backing service is unavailable",
		}
	case errors.Is(err, domain.ErrModelTimeout), errors.Is(err, context.DeadlineExceeded):
		status, body = http.StatusInternalServerError, modelFailure("model_timeout", "the assistant took too long to answer")
	case errors.Is(err, domain.ErrModelUnavailable):
		status, body = http.StatusInternalServerError, modelFailure("model_unavailable", "the assistant is unavailable")
	case errors.Is(err, context.Canceled):
		status, body = statusClientClosedRequest, domain.ErrorBody{Error: "canceled", Message: "request canceled"}
	default:
		status, body = http.StatusInternalServerError, domain.ErrorBody{Error: "internal_error", Message: "internal error"}
	}

	if status >= 500 {
		log.FromCtx(c.Request().Context()).Error().Err(err).Int("status", status).Msg("request failed")
	}
	if retry > 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(retry))
		body.Retry = "retry after " + strconv.Itoa(retry) + " seconds"
	}
	return c.JSON(status, body)
}

func modelFailure(code, msg string) domain.ErrorBody {
	return domain.ErrorBody{
		Error:          code,
		Message:        msg,
		Retry:          "retry later",
		Fallback:       service.FallbackReply,
		ShouldEscalate: true,
	}
}
