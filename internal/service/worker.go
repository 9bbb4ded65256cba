package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/internal/metrics"
	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// EscalationNotice is sent to the channel when a queued turn is given up on.
const EscalationNotice = "We're having trouble answering this automatically. A member of our support team will follow up with you shortly."

// Processor answers one turn.
type Processor interface {
	Process(ctx context.Context, req domain.TurnRequest) (*domain.TurnResult, error)
}

// Replier delivers a reply to the channel a turn came from.
type Replier interface {
	Deliver(ctx context.Context, target domain.ReplyTarget, text string) error
}

// PoolOptions size the worker pool.
type PoolOptions struct {
	Size int
	// MaxAttempts bounds deliveries of one item before it is dead-lettered.
	MaxAttempts int64
	// TurnTimeout bounds one queued turn, including reply delivery.
	TurnTimeout time.Duration
	// ErrorBackoff is the pause after a failed dequeue.
	ErrorBackoff time.Duration
	// Heartbeat is how often a worker renews its claim on the item it is
	// processing. It must be well below the queue's claim timeout.
	Heartbeat time.Duration
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Size <= 0 {
		o.Size = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.TurnTimeout <= 0 {
		o.TurnTimeout = 2 * time.Minute
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	return o
}

// Pool runs a fixed number of symmetric workers draining the queue.
type Pool struct {
	queue   queue.Queue
	engine  Processor
	store   store.SessionStore
	replier Replier
	metrics *metrics.Metrics
	opts    PoolOptions
	name    string
}

// NewPool creates a worker pool. m may be nil.
func NewPool(q queue.Queue, engine Processor, st store.SessionStore, replier Replier, m *metrics.Metrics, opts PoolOptions) *Pool {
	return &Pool{
		queue:   q,
		engine:  engine,
		store:   st,
		replier: replier,
		metrics: m,
		opts:    opts.withDefaults(),
		name:    "worker-" + uuid.NewString()[:8],
	}
}

// Run starts the workers and blocks until ctx ends and every worker has
// finished its current item.
func (p *Pool) Run(ctx context.Context) error {
	log.FromCtx(ctx).Info().Int("workers", p.opts.Size).Str("pool", p.name).Msg("worker pool started")
	g, ctx := errgroup.WithContext(ctx)
	for i := range p.opts.Size {
		g.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	log.FromCtx(ctx).Info().Str("pool", p.name).Msg("worker pool stopped")
	return err
}

func (p *Pool) work(ctx context.Context, id int) {
	consumer := fmt.Sprintf("%s-%d", p.name, id)
	logger := log.FromCtx(ctx).With().Int("worker", id).Str("consumer", consumer).Logger()
	defer p.leave(logger.WithContext(ctx), consumer)

	for ctx.Err() == nil {
		item, err := p.queue.Dequeue(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.ErrorBackoff):
			}
			continue
		}
		if item == nil {
			continue
		}

		// An item already taken finishes even during shutdown.
		turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.TurnTimeout)
		turnCtx = logger.WithContext(turnCtx)
		l := p.hold(turnCtx, cancel, item, consumer)
		p.handle(turnCtx, item, l)
		l.release()
		cancel()
	}
}

// leave removes the consumer from the group on shutdown unless it still
// owns items that others will have to reclaim.
func (p *Pool) leave(ctx context.Context, consumer string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	removed, err := p.queue.RemoveConsumer(ctx, consumer)
	switch {
	case err != nil:
		log.FromCtx(ctx).Warn().Err(err).Msg("could not remove consumer")
	case !removed:
		log.FromCtx(ctx).Info().Msg("consumer kept, it still owns pending items")
	}
}

// lease keeps an item claimed while its turn runs.
type lease struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// release stops renewing the claim and waits for the renewer to exit.
func (l *lease) release() {
	l.once.Do(func() {
		close(l.stop)
		<-l.done
	})
}

// hold renews the claim on item every heartbeat. If another consumer has
// taken the item over, lost is called so the turn is abandoned rather than
// answered twice.
func (p *Pool) hold(ctx context.Context, lost context.CancelFunc, item *domain.QueueItem, consumer string) *lease {
	l := &lease{stop: make(chan struct{}), done: make(chan struct{})}
	go func() {
		defer close(l.done)
		t := time.NewTicker(p.opts.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			err := p.queue.Touch(ctx, item, consumer)
			switch {
			case errors.Is(err, queue.ErrNotOwner):
				log.FromCtx(ctx).Warn().Str("item_id", item.ID).Msg("item taken over by another consumer, abandoning turn")
				lost()
				return
			case err != nil:
				log.FromCtx(ctx).Warn().Err(err).Str("item_id", item.ID).Msg("claim renewal failed")
			}
		}
	}()
	return l
}

// handle processes one item. On success the item is acknowledged and the
// reply routed; on failure it stays pending for redelivery. The lease is
// released before the item leaves the pending list.
func (p *Pool) handle(ctx context.Context, item *domain.QueueItem, l *lease) {
	logger := zerolog.Ctx(ctx).With().Str("item_id", item.ID).Str("kind", string(item.Kind)).Int64("attempt", item.Attempt).Logger()
	ctx = logger.WithContext(ctx)

	in, err := DecodeInbound(item)
	if err != nil {
		l.release()
		p.deadLetter(ctx, item, nil, "undecodable payload: "+err.Error())
		return
	}
	if item.Attempt > p.opts.MaxAttempts {
		l.release()
		p.deadLetter(ctx, item, in, fmt.Sprintf("gave up after %d attempts", item.Attempt-1))
		return
	}

	res, err := p.engine.Process(ctx, in.Turn)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			l.release()
			p.deadLetter(ctx, item, in, "rejected: "+err.Error())
			return
		}
		logger.Warn().Err(err).Msg("turn failed, leaving item for redelivery")
		return
	}

	l.release()
	if ctx.Err() != nil {
		// Claim lost or turn timed out; whoever owns the item now answers it.
		logger.Warn().Err(ctx.Err()).Msg("turn outlived its claim, leaving item")
		return
	}
	if err := p.queue.Ack(ctx, item); err != nil {
		// The item will be redelivered and answered again.
		logger.Error().Err(err).Msg("ack failed")
		return
	}
	if err := p.replier.Deliver(ctx, in.Target, res.Message); err != nil {
		logger.Error().Err(err).Msg("reply delivery failed")
	}
}

// deadLetter parks item, flags its conversation for a human and tells the
// customer. in is nil when the payload could not be decoded.
func (p *Pool) deadLetter(ctx context.Context, item *domain.QueueItem, in *domain.Inbound, reason string) {
	logger := log.FromCtx(ctx)
	if err := p.queue.DeadLetter(ctx, item, reason); err != nil {
		logger.Error().Err(err).Msg("dead-letter failed")
		return
	}
	logger.Warn().Str("reason", reason).Msg("item dead-lettered")

	channel := string(item.Kind)
	if in != nil {
		channel = string(in.Turn.Channel)
	}
	if p.metrics != nil {
		p.metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeDeadLetter, channel).Inc()
	}
	if in == nil {
		return
	}

	if err := p.store.MarkEscalated(ctx, in.Turn.SessionID, reason); err != nil {
		logger.Warn().Err(err).Msg("could not flag conversation for escalation")
	}
	if err := p.replier.Deliver(ctx, in.Target, EscalationNotice); err != nil {
		logger.Error().Err(err).Msg("escalation notice delivery failed")
	}
}
