package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/helpdesk/internal/service"
	httpserver "github.com/xiaot623/gogo/helpdesk/internal/transport/http"
	v1 "github.com/xiaot623/gogo/helpdesk/internal/transport/http/v1"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway, the worker pool and the maintenance scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context) error {
	ctx, cfg, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	if cfg.MockMode() {
		logger.Warn().Msg("running with the mock model client")
	}

	c, err := newComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("shutdown left resources open")
		}
	}()

	// The in-process index starts empty.
	if strings.HasPrefix(cfg.SearchURL, "memory://") {
		n, err := c.knowledge.RebuildIndex(ctx)
		if err != nil {
			return fmt.Errorf("failed to build knowledge index: %w", err)
		}
		logger.Info().Int("articles", n).Msg("knowledge index built")
	}

	e := httpserver.NewServer(logger, v1.Deps{
		Engine:    c.engine,
		Store:     c.store,
		Queue:     c.queue,
		Knowledge: c.knowledge,
		Hub:       c.hub,
		Metrics:   c.metrics,
	}, v1.Options{
		AdminAPIKey:      cfg.AdminAPIKey,
		WebhookRateLimit: cfg.WebhookRateLimit,
		RequestTimeout:   cfg.RequestTimeout,
	})

	pool := service.NewPool(c.queue, c.engine, c.store, c.router, c.metrics, service.PoolOptions{
		Size:        cfg.WorkerPoolSize,
		MaxAttempts: int64(cfg.QueueMaxAttempts),
		TurnTimeout: cfg.WorkerTurnTimeout,
		Heartbeat:   cfg.ClaimHeartbeat(),
	})
	maint := service.NewMaintenance(c.store, c.queue, c.metrics, service.MaintenanceOptions{
		SessionIdle: cfg.SessionTTL,
		QueueMaxAge: cfg.QueueMaxAge,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		logger.Info().Str("addr", addr).Msg("gateway listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		c.hub.Close()
		return e.Shutdown(shutdownCtx)
	})
	if cfg.WorkerPoolSize > 0 {
		g.Go(func() error { return pool.Run(gctx) })
	} else {
		logger.Info().Msg("worker pool disabled")
	}
	g.Go(func() error { return maint.Run(gctx) })

	return g.Wait()
}
