package service

import (
	"context"
	"errors"
	"sync"

	"github.com/xiaot623/gogo/helpdesk/internal/adapter/llm"
	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

type fakeLLM struct {
	mu    sync.Mutex
	reqs  []*llm.CompletionRequest
	reply func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error)
}

func answer(text, stop string) *fakeLLM {
	return &fakeLLM{reply: func(context.Context, *llm.CompletionRequest) (*llm.Completion, error) {
		return &llm.Completion{Text: text, StopReason: stop, InputTokens: 100, OutputTokens: 20}, nil
	}}
}

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply(ctx, req)
}

func (f *fakeLLM) last() *llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return nil
	}
	return f.reqs[len(f.reqs)-1]
}

type delivery struct {
	Target domain.ReplyTarget
	Text   string
}

type fakeReplier struct {
	mu  sync.Mutex
	out []delivery
}

func (f *fakeReplier) Deliver(_ context.Context, target domain.ReplyTarget, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, delivery{Target: target, Text: text})
	return nil
}

func (f *fakeReplier) deliveries() []delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivery(nil), f.out...)
}

type brokenBackend struct{}

var errBackendDown = errors.New("connection refused")

func (brokenBackend) Search(context.Context, string, int) ([]domain.Article, error) {
	return nil, errBackendDown
}
func (brokenBackend) Index(context.Context, domain.Article) error       { return errBackendDown }
func (brokenBackend) BulkIndex(context.Context, []domain.Article) error { return errBackendDown }
func (brokenBackend) Reset(context.Context) error                       { return errBackendDown }
func (brokenBackend) Ping(context.Context) error                        { return errBackendDown }
