// Package http provides the HTTP server implementation for the helpdesk gateway.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	v1 "github.com/xiaot623/gogo/helpdesk/internal/transport/http/v1"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

const bodyLimit = "1M"

// NewServer creates and configures the public HTTP server. logger becomes
// the request-scoped logger of every handler.
func NewServer(logger zerolog.Logger, deps v1.Deps, opts v1.Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(contextLogger(logger))
	e.Use(tracing())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.FromCtx(c.Request().Context()).Info()
			if v.Error != nil || v.Status >= 500 {
				ev = log.FromCtx(c.Request().Context()).Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(bodyLimit))

	v1.NewHandler(deps, opts).RegisterRoutes(e)
	return e
}

// contextLogger stores a child logger tagged with the request id in the
// request context.
func contextLogger(base zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			l := base.With().Str("request_id", id).Logger()
			c.SetRequest(req.WithContext(l.WithContext(req.Context())))
			return next(c)
		}
	}
}

func tracing() echo.MiddlewareFunc {
	tracer := otel.Tracer("github.com/xiaot623/gogo/helpdesk/internal/transport/http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx, span := tracer.Start(req.Context(), req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("http.method", req.Method)),
			)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))
			err := next(c)
			span.SetAttributes(attribute.Int("http.status_code", c.Response().Status))
			return err
		}
	}
}
