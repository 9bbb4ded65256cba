// Package queue provides the durable ingestion queue for channel events.
//
// Delivery is at least once. Items stay pending until acknowledged; an item
// left unacknowledged for longer than the claim timeout is handed to the next
// consumer that asks. Each item is owned by one consumer at a time. Once the
// stream grows past its approximate maximum length the oldest items are
// trimmed, acknowledged or not.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// Queue is the ingestion queue contract used by the gateway and workers.
type Queue interface {
	// Enqueue appends item and sets its ID and EnqueuedAt.
	Enqueue(ctx context.Context, item *domain.QueueItem) error
	// Dequeue blocks up to the block timeout for the next item owned by
	// consumer. It returns nil, nil when nothing arrived in time.
	Dequeue(ctx context.Context, consumer string) (*domain.QueueItem, error)
	Ack(ctx context.Context, item *domain.QueueItem) error
	// Touch restarts the claim timeout of an item consumer still owns. It
	// returns ErrNotOwner once the item was acknowledged or reclaimed.
	Touch(ctx context.Context, item *domain.QueueItem, consumer string) error
	// DeadLetter moves item to the dead-letter stream and acknowledges it.
	DeadLetter(ctx context.Context, item *domain.QueueItem, reason string) error
	PendingCount(ctx context.Context) (int64, error)
	// TrimOlderThan drops items enqueued more than age ago.
	TrimOlderThan(ctx context.Context, age time.Duration) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	// RemoveConsumer deletes consumer from the group when it owns no pending
	// items and reports whether it did.
	RemoveConsumer(ctx context.Context, consumer string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrNotOwner is returned by Touch for items the consumer no longer owns.
var ErrNotOwner = errors.New("queue item is not owned by this consumer")

// Stats describes queue depth.
type Stats struct {
	Length      int64 `json:"length"`
	Pending     int64 `json:"pending"`
	DeadLetters int64 `json:"dead_letters"`
}

// Options configure a queue.
type Options struct {
	Stream       string
	Group        string
	MaxLen       int64
	BlockTimeout time.Duration
	ClaimTimeout time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Stream == "" {
		o.Stream = "agent_messages"
	}
	if o.Group == "" {
		o.Group = "workers"
	}
	if o.MaxLen <= 0 {
		o.MaxLen = 100000
	}
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = time.Second
	}
	if o.ClaimTimeout <= 0 {
		o.ClaimTimeout = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
