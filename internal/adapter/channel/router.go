// Package channel delivers replies for queued turns back to the channel
// they came from: Zendesk ticket comments, Slack threads and widget
// websockets.
package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// Sender delivers a reply to one channel.
type Sender interface {
	Send(ctx context.Context, target domain.ReplyTarget, text string) error
}

// Router picks the Sender for a reply target and retries transient
// failures with exponential backoff.
type Router struct {
	mu      sync.RWMutex
	senders map[domain.Channel]Sender
	metrics *metrics.Metrics

	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewRouter creates a Router with no senders registered.
func NewRouter(m *metrics.Metrics) *Router {
	return &Router{
		senders:    make(map[domain.Channel]Sender),
		metrics:    m,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

// Register binds a sender to a channel, replacing any previous one.
func (r *Router) Register(ch domain.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Deliver sends text to target. Channels without a configured sender are
// skipped.
func (r *Router) Deliver(ctx context.Context, target domain.ReplyTarget, text string) error {
	r.mu.RLock()
	s, ok := r.senders[target.Channel]
	r.mu.RUnlock()

	logger := log.FromCtx(ctx)
	if !ok {
		logger.Warn().Str("channel", string(target.Channel)).Msg("no sender configured, reply not delivered")
		return nil
	}

	attempt := 0
	op := func() error {
		attempt++
		err := s.Send(ctx, target, text)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).
			Str("channel", string(target.Channel)).Msg("reply delivery failed, retrying")
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackOff(), r.maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if r.metrics != nil {
			r.metrics.DeliveryFailures.WithLabelValues(string(target.Channel)).Inc()
		}
		return fmt.Errorf("deliver %s reply: %w", target.Channel, err)
	}
	return nil
}

// StatusError is a non-2xx answer from a channel API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// apiError is a 2xx answer whose body reports failure.
type apiError struct {
	Reason    string
	Retryable bool
}

func (e *apiError) Error() string { return "api error: " + e.Reason }

func retryable(err error) bool {
	switch e := err.(type) {
	case *StatusError:
		return e.Code == http.StatusTooManyRequests || e.Code >= 500
	case *apiError:
		return e.Retryable
	}
	return true
}

// do executes req and returns the body of a 2xx response.
func do(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
