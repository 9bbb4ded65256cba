package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

func newRedisTestStore(t *testing.T, opts Options) (*RedisStore, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	clock := newFakeClock()
	opts.Now = clock.Now
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(rdb, opts)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr, clock
}

func TestRedisSessionStore(t *testing.T) {
	runSessionStoreSuite(t, func(t *testing.T, opts Options) (SessionStore, func(time.Duration)) {
		s, mr, clock := newRedisTestStore(t, opts)
		return s, func(d time.Duration) {
			clock.Advance(d)
			mr.FastForward(d)
		}
	})
}

func TestRedisStoreSlidingTTL(t *testing.T) {
	ctx := context.Background()
	s, mr, clock := newRedisTestStore(t, Options{TTL: time.Hour})

	_, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(ctx, "s1", domain.RoleUser, "hi"))

	clock.Advance(50 * time.Minute)
	mr.FastForward(50 * time.Minute)
	require.NoError(t, s.AppendMessage(ctx, "s1", domain.RoleAssistant, "hello"))

	assert.Equal(t, time.Hour, mr.TTL(sessionKey("s1")))
	assert.Equal(t, time.Hour, mr.TTL(messagesKey("s1")))

	clock.Advance(50 * time.Minute)
	mr.FastForward(50 * time.Minute)
	msgs, err := s.History(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestRedisStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newRedisTestStore(t, Options{})
	mr.Close()

	_, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), domain.ErrStoreUnavailable)
}

func TestOpenRedisURL(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := Open("redis://"+mr.Addr()+"/0", Options{})
	require.NoError(t, err)
	defer s.Close()
	assert.NoError(t, s.Ping(context.Background()))
}
