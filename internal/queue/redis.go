package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
	"github.com/xiaot623/gogo/helpdesk/pkg/log"
)

// reclaimScan bounds how many pending entries one Dequeue inspects. The
// scan resumes where the previous one stopped, so the whole pending list is
// covered over successive calls.
const reclaimScan = 16

// touchScript refreshes an entry's idle time only while ARGV[2] still owns it.
var touchScript = redis.NewScript(`
local p = redis.call('XPENDING', KEYS[1], ARGV[1], ARGV[3], ARGV[3], 1)
if #p == 0 or p[1][2] ~= ARGV[2] then
  return 0
end
redis.call('XCLAIM', KEYS[1], ARGV[1], ARGV[2], 0, ARGV[3], 'JUSTID')
return 1
`)

// RedisQueue implements Queue on a Redis stream with one consumer group.
type RedisQueue struct {
	rdb  redis.UniversalClient
	opts Options

	mu     sync.Mutex
	cursor string
}

// NewRedisQueue wraps rdb and creates the consumer group if needed.
func NewRedisQueue(ctx context.Context, rdb redis.UniversalClient, opts Options) (*RedisQueue, error) {
	q := &RedisQueue{rdb: rdb, opts: opts.withDefaults(), cursor: "-"}
	if err := q.ensureGroup(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// NewRedisQueueFromURL connects using a redis:// URL.
func NewRedisQueueFromURL(ctx context.Context, rawURL string, opts Options) (*RedisQueue, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue url: %w", err)
	}
	return NewRedisQueue(ctx, redis.NewClient(o), opts)
}

func (q *RedisQueue) deadStream() string { return q.opts.Stream + ":dead" }

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return domain.E(domain.ErrQueueUnavailable, "queue.ensure_group", err)
	}
	return nil
}

// Enqueue implements Queue.
func (q *RedisQueue) Enqueue(ctx context.Context, item *domain.QueueItem) error {
	now := q.opts.Now()
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(item.Kind),
			"payload":     string(item.Payload),
			"enqueued_at": now.UnixMilli(),
		},
	}).Result()
	if err != nil {
		return domain.E(domain.ErrQueueUnavailable, "queue.enqueue", err)
	}
	item.ID = id
	item.EnqueuedAt = now.UTC()
	return nil
}

// Dequeue implements Queue. Stale pending items are reclaimed before new
// items are read.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string) (*domain.QueueItem, error) {
	item, err := q.reclaim(ctx, consumer)
	if err != nil || item != nil {
		return item, err
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opts.Group,
		Consumer: consumer,
		Streams:  []string{q.opts.Stream, ">"},
		Count:    1,
		Block:    q.opts.BlockTimeout,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			// Stream was deleted underneath us; recreate and retry next round.
			return nil, q.ensureGroup(ctx)
		}
		return nil, domain.E(domain.ErrQueueUnavailable, "queue.dequeue", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}
	return decodeMessage(streams[0].Messages[0], 1), nil
}

func (q *RedisQueue) reclaim(ctx context.Context, consumer string) (*domain.QueueItem, error) {
	const op = "queue.reclaim"
	q.mu.Lock()
	start := q.cursor
	q.mu.Unlock()

	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.opts.Stream,
		Group:  q.opts.Group,
		Start:  start,
		End:    "+",
		Count:  reclaimScan,
	}).Result()
	if errors.Is(err, redis.Nil) {
		pending, err = nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return nil, nil
		}
		return nil, domain.E(domain.ErrQueueUnavailable, op, err)
	}

	next := "-"
	if len(pending) == reclaimScan {
		next = successor(pending[len(pending)-1].ID)
	}
	q.mu.Lock()
	q.cursor = next
	q.mu.Unlock()

	for _, p := range pending {
		if p.Idle < q.opts.ClaimTimeout {
			continue
		}
		msgs, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.opts.Stream,
			Group:    q.opts.Group,
			Consumer: consumer,
			MinIdle:  q.opts.ClaimTimeout,
			Messages: []string{p.ID},
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, domain.E(domain.ErrQueueUnavailable, op, err)
		}
		if len(msgs) == 0 || msgs[0].Values == nil {
			// Trimmed while pending, or claimed by someone else first.
			if len(msgs) > 0 {
				_ = q.rdb.XAck(ctx, q.opts.Stream, q.opts.Group, p.ID).Err()
			}
			continue
		}
		log.FromCtx(ctx).Info().
			Str("item_id", p.ID).
			Str("from", p.Consumer).
			Str("to", consumer).
			Int64("attempt", p.RetryCount+1).
			Msg("reclaimed stale queue item")
		return decodeMessage(msgs[0], p.RetryCount+1), nil
	}
	return nil, nil
}

// successor returns the smallest stream id greater than id, or "-" when id
// cannot be parsed.
func successor(id string) string {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "-"
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "-"
	}
	return ms + "-" + strconv.FormatUint(n+1, 10)
}

// Touch implements Queue.
func (q *RedisQueue) Touch(ctx context.Context, item *domain.QueueItem, consumer string) error {
	owned, err := touchScript.Run(ctx, q.rdb, []string{q.opts.Stream}, q.opts.Group, consumer, item.ID).Int()
	if err != nil {
		return domain.E(domain.ErrQueueUnavailable, "queue.touch", err)
	}
	if owned == 0 {
		return ErrNotOwner
	}
	return nil
}

// RemoveConsumer implements Queue.
func (q *RedisQueue) RemoveConsumer(ctx context.Context, consumer string) (bool, error) {
	const op = "queue.remove_consumer"
	pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Start:    "-",
		End:      "+",
		Count:    1,
		Consumer: consumer,
	}).Result()
	if errors.Is(err, redis.Nil) {
		pending, err = nil, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return false, nil
		}
		return false, domain.E(domain.ErrQueueUnavailable, op, err)
	}
	if len(pending) > 0 {
		return false, nil
	}
	if err := q.rdb.XGroupDelConsumer(ctx, q.opts.Stream, q.opts.Group, consumer).Err(); err != nil {
		return false, domain.E(domain.ErrQueueUnavailable, op, err)
	}
	return true, nil
}

// Ack implements Queue.
func (q *RedisQueue) Ack(ctx context.Context, item *domain.QueueItem) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, q.opts.Stream, q.opts.Group, item.ID)
		p.XDel(ctx, q.opts.Stream, item.ID)
		return nil
	})
	return domain.E(domain.ErrQueueUnavailable, "queue.ack", err)
}

// DeadLetter implements Queue.
func (q *RedisQueue) DeadLetter(ctx context.Context, item *domain.QueueItem, reason string) error {
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.deadStream(),
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			"kind":        string(item.Kind),
			"payload":     string(item.Payload),
			"enqueued_at": item.EnqueuedAt.UnixMilli(),
			"attempt":     item.Attempt,
			"origin_id":   item.ID,
			"reason":      reason,
		},
	}).Err()
	if err != nil {
		return domain.E(domain.ErrQueueUnavailable, "queue.dead_letter", err)
	}
	return q.Ack(ctx, item)
}

// PendingCount implements Queue.
func (q *RedisQueue) PendingCount(ctx context.Context) (int64, error) {
	res, err := q.rdb.XPending(ctx, q.opts.Stream, q.opts.Group).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, domain.E(domain.ErrQueueUnavailable, "queue.pending", err)
	}
	return res.Count, nil
}

// TrimOlderThan implements Queue.
func (q *RedisQueue) TrimOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	minID := strconv.FormatInt(q.opts.Now().Add(-age).UnixMilli(), 10) + "-0"
	n, err := q.rdb.XTrimMinID(ctx, q.opts.Stream, minID).Result()
	return n, domain.E(domain.ErrQueueUnavailable, "queue.trim", err)
}

// Stats implements Queue.
func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	var length, dead *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		length = p.XLen(ctx, q.opts.Stream)
		dead = p.XLen(ctx, q.deadStream())
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, domain.E(domain.ErrQueueUnavailable, "queue.stats", err)
	}
	pending, err := q.PendingCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Length: length.Val(), Pending: pending, DeadLetters: dead.Val()}, nil
}

// Ping implements Queue.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return domain.E(domain.ErrQueueUnavailable, "queue.ping", q.rdb.Ping(ctx).Err())
}

// Close implements Queue.
func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}

func decodeMessage(msg redis.XMessage, attempt int64) *domain.QueueItem {
	item := &domain.QueueItem{ID: msg.ID, Attempt: attempt}
	if v, ok := msg.Values["kind"].(string); ok {
		item.Kind = domain.Kind(v)
	}
	if v, ok := msg.Values["payload"].(string); ok {
		item.Payload = []byte(v)
	}
	if v, ok := msg.Values["enqueued_at"].(string); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			item.EnqueuedAt = time.UnixMilli(n).UTC()
		}
	}
	return item
}
