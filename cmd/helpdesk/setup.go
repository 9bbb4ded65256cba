package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/channel"
	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
	"github.com/xiaot623/gogo/helpdesk/internal/config"
	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/knowledge"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/internal/service"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

const channelTimeout = 10 * time.Second

// components are the long-lived pieces shared by the commands.
type components struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	store     store.SessionStore
	queue     queue.Queue
	knowledge *knowledge.Service
	hub       *channel.Hub
	router    *channel.Router
	engine    *service.Engine
}

func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	return queue.NewRedisQueueFromURL(ctx, cfg.QueueURL, queue.Options{
		Stream:       cfg.QueueStream,
		Group:        cfg.QueueGroup,
		MaxLen:       cfg.QueueMaxLen,
		BlockTimeout: cfg.QueueBlockTimeout,
		ClaimTimeout: cfg.QueueClaimTimeout,
	})
}

func openKnowledge(cfg *config.Config, sourcePath string, m *metrics.Metrics) (*knowledge.Service, error) {
	backend, err := knowledge.Open(cfg.SearchURL, cfg.SearchIndex)
	if err != nil {
		return nil, err
	}
	var observer knowledge.SearchObserver
	if m != nil {
		observer = m
	}
	return knowledge.NewService(backend, knowledge.NewSource(sourcePath), observer), nil
}

func newComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	logger := log.FromCtx(ctx)
	m := metrics.Default()

	st, err := store.Open(cfg.StoreURL, store.Options{
		MaxSessions:  cfg.MaxConcurrentSessions,
		TTL:          cfg.SessionTTL,
		HistoryLimit: cfg.SessionHistoryLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	q, err := openQueue(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	kb, err := openKnowledge(cfg, cfg.KnowledgeSource, m)
	if err != nil {
		_ = st.Close()
		_ = q.Close()
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}

	hub := channel.NewHub()
	router := channel.NewRouter(m)
	router.Register(domain.ChannelWidget, hub)
	if cfg.ZendeskURL != "" && cfg.ZendeskAPIToken != "" {
		router.Register(domain.ChannelZendesk, channel.NewZendeskClient(cfg.ZendeskURL, cfg.ZendeskEmail, cfg.ZendeskAPIToken, channelTimeout))
	} else {
		logger.Info().Msg("zendesk delivery disabled")
	}
	if cfg.SlackBotToken != "" {
		router.Register(domain.ChannelSlack, channel.NewSlackClient(cfg.SlackAPIURL, cfg.SlackBotToken, channelTimeout))
	} else {
		logger.Info().Msg("slack delivery disabled")
	}

	engine := service.NewEngine(st, kb, llm.NewClient(cfg), m, service.EngineOptions{
		Model:        cfg.ModelName,
		MaxTokens:    cfg.ModelMaxTokens,
		Temperature:  cfg.ModelTemperature,
		ModelTimeout: cfg.ModelTimeout,
	})

	return &components{
		cfg:       cfg,
		metrics:   m,
		store:     st,
		queue:     q,
		knowledge: kb,
		hub:       hub,
		router:    router,
		engine:    engine,
	}, nil
}

func (c *components) Close() error {
	c.hub.Close()
	return errors.Join(c.queue.Close(), c.store.Close())
}
