package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/helpdesk/internal/queue"
	store "github.com/xiaot623/gogo/helpdesk/internal/repository"
)

func NewTestSQLiteStore(t *testing.T, opts store.Options) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:", opts)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestRedis starts an in-process Redis and returns a client for it.
func NewTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return mr, rdb
}

// NewTestQueue returns a Redis Streams queue on a fresh in-process Redis
// with short block and claim timeouts.
func NewTestQueue(t *testing.T, opts queue.Options) *queue.RedisQueue {
	t.Helper()

	_, rdb := NewTestRedis(t)
	if opts.BlockTimeout == 0 {
		opts.BlockTimeout = 20 * time.Millisecond
	}
	if opts.ClaimTimeout == 0 {
		opts.ClaimTimeout = 50 * time.Millisecond
	}
	q, err := queue.NewRedisQueue(context.Background(), rdb, opts)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	return q
}
