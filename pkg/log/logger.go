// Package log wires the process-wide zerolog logger and carries it through contexts.
package log

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options control logger construction.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console or json
	Out    io.Writer
}

// New builds a logger according to opts and installs it as the global logger.
func New(opts Options) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(opts.Level))

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(opts.Format, "console") {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.DateTime,
			PartsOrder: []string{
				zerolog.LevelFieldName,
				zerolog.TimestampFieldName,
				zerolog.MessageFieldName,
			},
		}
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "helpdesk").Logger()
	log.Logger = logger
	return logger
}

// NewContextWithLogger returns ctx carrying a logger built from opts.
func NewContextWithLogger(ctx context.Context, opts Options) context.Context {
	logger := New(opts)
	return logger.WithContext(ctx)
}

// FromCtx returns the logger stored in ctx, falling back to the global logger.
func FromCtx(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
