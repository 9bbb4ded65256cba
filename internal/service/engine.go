package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/internal/sentiment"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

const tracerName = "github.com/xiaot623/gogo/helpdesk/internal/service"

// Searcher finds knowledge-base articles for a message. It never fails;
// an unavailable index yields no articles.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) []domain.Article
}

// EngineOptions tune the model call.
type EngineOptions struct {
	Model        string
	MaxTokens    int
	Temperature  float32
	ModelTimeout time.Duration
	// KBLimit caps the articles added to the model context.
	KBLimit int
}

func (o EngineOptions) withDefaults() EngineOptions {
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4000
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = 60 * time.Second
	}
	if o.KBLimit <= 0 {
		o.KBLimit = 5
	}
	return o
}

// Engine turns one user message into an assistant reply.
type Engine struct {
	store      store.SessionStore
	search     Searcher
	llm        llm.Client
	classifier *sentiment.Classifier
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	opts       EngineOptions
}

// NewEngine wires the engine's dependencies. m may be nil.
func NewEngine(st store.SessionStore, search Searcher, client llm.Client, m *metrics.Metrics, opts EngineOptions) *Engine {
	return &Engine{
		store:      st,
		search:     search,
		llm:        client,
		classifier: sentiment.New(),
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		opts:       opts.withDefaults(),
	}
}

// Process runs one turn: load the session, classify, search, call the
// model and record both sides of the exchange.
//
// If ctx ends while the model call is in flight the call still runs to
// completion under the model timeout, but its result is discarded and
// nothing is written to the session.
func (e *Engine) Process(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error) {
	start := time.Now()
	if req.Channel == "" {
		req.Channel = domain.ChannelWeb
	}

	ctx, span := e.tracer.Start(ctx, "engine.Process", trace.WithAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("channel", string(req.Channel)),
	))
	defer span.End()

	logger := log.FromCtx(ctx).With().Str("session_id", req.SessionID).Str("channel", string(req.Channel)).Logger()
	ctx = logger.WithContext(ctx)

	res, err := e.process(ctx, req, start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.ObserveTurn(string(req.Channel), metrics.OutcomeError, time.Since(start))
		logger.Error().Err(err).Msg("turn failed")
		return nil, err
	}

	outcome := metrics.OutcomeSuccess
	if res.ShouldEscalate {
		outcome = metrics.OutcomeEscalated
	}
	span.SetAttributes(
		attribute.String("sentiment", string(res.Sentiment)),
		attribute.Float64("confidence", res.Confidence),
		attribute.Bool("should_escalate", res.ShouldEscalate),
	)
	e.metrics.ObserveTurn(string(req.Channel), outcome, time.Since(start))
	logger.Info().
		Str("sentiment", string(res.Sentiment)).
		Float64("confidence", res.Confidence).
		Bool("escalate", res.ShouldEscalate).
		Int("kb_articles", len(res.KBArticles)).
		Float64("ms", res.ProcessingTimeMS).
		Msg("turn processed")
	return res, nil
}

func (e *Engine) process(ctx context.Context, req domain.TurnRequest, start time.Time) (*domain.TurnResult, error) {
	sess, err := e.store.GetOrCreate(ctx, req.SessionID, req.UserID, req.Channel, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	mood := e.classifier.Classify(req.Text)
	e.metrics.ObserveSentiment(string(mood))

	articles := e.search.Search(ctx, req.Text, e.opts.KBLimit)

	completion, err := e.complete(ctx, &llm.CompletionRequest{
		Model:       e.opts.Model,
		System:      SystemPrompt,
		Messages:    buildContext(sess.Messages, req.Text, articles),
		MaxTokens:   e.opts.MaxTokens,
		Temperature: e.opts.Temperature,
	})
	if err != nil {
		return nil, err
	}
	e.metrics.ObserveTokens(completion.InputTokens, completion.OutputTokens)

	reply := parseReply(completion.Text)

	if err := e.store.AppendMessage(ctx, req.SessionID, domain.RoleUser, req.Text); err != nil {
		return nil, fmt.Errorf("record user message: %w", err)
	}
	if err := e.store.AppendMessage(ctx, req.SessionID, domain.RoleAssistant, reply.Message); err != nil {
		return nil, fmt.Errorf("record reply: %w", err)
	}

	return &domain.TurnResult{
		SessionID:        req.SessionID,
		Message:          reply.Message,
		Sentiment:        mood,
		Confidence:       confidence(completion.StopReason),
		ShouldEscalate:   reply.Escalate,
		SuggestedActions: reply.Actions,
		KBArticles:       articles,
		TokensUsed: domain.TokenUsage{
			InputTokens:  completion.InputTokens,
			OutputTokens: completion.OutputTokens,
			TotalTokens:  completion.InputTokens + completion.OutputTokens,
		},
		ProcessingTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

type completionResult struct {
	completion *llm.Completion
	err        error
}

// complete runs the model call detached from ctx's cancellation, bounded
// by the model timeout.
func (e *Engine) complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	ctx, span := e.tracer.Start(ctx, "engine.Complete")
	defer span.End()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ModelTimeout)
	done := make(chan completionResult, 1)
	go func() {
		defer cancel()
		c, err := e.llm.Complete(callCtx, req)
		done <- completionResult{completion: c, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, modelError(r.err)
		}
		return r.completion, nil
	case <-ctx.Done():
		log.FromCtx(ctx).Warn().Msg("caller went away, model result will be discarded")
		return nil, ctx.Err()
	}
}

func modelError(err error) error {
	switch {
	case errors.Is(err, domain.ErrModelTimeout), errors.Is(err, domain.ErrModelUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.E(domain.ErrModelTimeout, "llm.Complete", err)
	default:
		return domain.E(domain.ErrModelUnavailable, "llm.Complete", err)
	}
}

// buildContext is the prior history followed by the new user turn, with
// any knowledge-base articles appended to that turn.
func buildContext(history []domain.Message, text string, articles []domain.Article) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	var b strings.Builder
	b.WriteString(text)
	if len(articles) > 0 {
		b.WriteString("\n\n" + llm.KBMarker + "\n")
		for _, a := range articles {
			fmt.Fprintf(&b, "- %s (Relevance: %.2f): %s\n", a.Title, a.Score, a.Body)
		}
	}
	return append(msgs, llm.Message{Role: string(domain.RoleUser), Content: b.String()})
}
