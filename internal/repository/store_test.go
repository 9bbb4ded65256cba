package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// storeFactory builds a fresh store plus a hook that moves both the store
// clock and any backend-side expiry forward.
type storeFactory func(t *testing.T, opts Options) (SessionStore, func(time.Duration))

func runSessionStoreSuite(t *testing.T, factory storeFactory) {
	ctx := context.Background()

	t.Run("create then reuse", func(t *testing.T) {
		s, advance := factory(t, Options{})
		first, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, map[string]any{"tier": "pro"})
		require.NoError(t, err)
		assert.Equal(t, "u1", first.UserID)
		assert.Equal(t, domain.ChannelWeb, first.Channel)
		assert.Empty(t, first.Messages)
		assert.Equal(t, "pro", first.Metadata["tier"])

		advance(time.Minute)
		second, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, map[string]any{"tier": "free"})
		require.NoError(t, err)
		assert.True(t, first.StartedAt.Equal(second.StartedAt))
		assert.True(t, second.LastActivityAt.After(first.LastActivityAt))
		assert.Equal(t, "pro", second.Metadata["tier"], "metadata is only merged on create")
	})

	t.Run("history keeps newest in order", func(t *testing.T) {
		s, _ := factory(t, Options{HistoryLimit: 3})
		_, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
		require.NoError(t, err)
		for i := 1; i <= 5; i++ {
			require.NoError(t, s.AppendMessage(ctx, "s1", domain.RoleUser, fmt.Sprintf("m%d", i)))
		}

		msgs, err := s.History(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "m3", msgs[0].Content)
		assert.Equal(t, "m4", msgs[1].Content)
		assert.Equal(t, "m5", msgs[2].Content)

		sess, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
		require.NoError(t, err)
		assert.Len(t, sess.Messages, 3)
	})

	t.Run("ceiling rejects new sessions only", func(t *testing.T) {
		s, _ := factory(t, Options{MaxSessions: 2})
		for _, id := range []string{"a", "b"} {
			_, err := s.GetOrCreate(ctx, id, "u", domain.ChannelWeb, nil)
			require.NoError(t, err)
		}

		_, err := s.GetOrCreate(ctx, "c", "u", domain.ChannelWeb, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

		_, err = s.GetOrCreate(ctx, "a", "u", domain.ChannelWeb, nil)
		require.NoError(t, err, "existing sessions stay reachable at the ceiling")

		require.NoError(t, s.End(ctx, "a"))
		_, err = s.GetOrCreate(ctx, "c", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
	})

	t.Run("concurrent get or create converges", func(t *testing.T) {
		s, _ := factory(t, Options{})
		var wg sync.WaitGroup
		results := make([]*domain.Session, 20)
		errs := make([]error, 20)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = s.GetOrCreate(ctx, "shared", "u1", domain.ChannelWeb, nil)
			}(i)
		}
		wg.Wait()

		for i := range results {
			require.NoError(t, errs[i])
			assert.True(t, results[0].StartedAt.Equal(results[i].StartedAt))
		}
		n, err := s.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent creators respect the ceiling", func(t *testing.T) {
		s, _ := factory(t, Options{MaxSessions: 5})
		var wg sync.WaitGroup
		var mu sync.Mutex
		created, rejected := 0, 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.GetOrCreate(ctx, fmt.Sprintf("s-%d", i), "u", domain.ChannelWeb, nil)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrCapacityExceeded):
					rejected++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 5, created)
		assert.Equal(t, 15, rejected)
	})

	t.Run("unknown sessions", func(t *testing.T) {
		s, _ := factory(t, Options{})
		assert.ErrorIs(t, s.AppendMessage(ctx, "nope", domain.RoleUser, "hi"), domain.ErrNotFound)
		_, err := s.History(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = s.Get(ctx, "nope")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, s.End(ctx, "nope"))
		assert.ErrorIs(t, s.MarkEscalated(ctx, "nope", "x"), domain.ErrNotFound)
	})

	t.Run("end removes history", func(t *testing.T) {
		s, _ := factory(t, Options{})
		_, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, "s1", domain.RoleUser, "hello"))
		require.NoError(t, s.End(ctx, "s1"))

		_, err = s.History(ctx, "s1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		sess, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelWeb, nil)
		require.NoError(t, err)
		assert.Empty(t, sess.Messages)
	})

	t.Run("mark escalated", func(t *testing.T) {
		s, _ := factory(t, Options{})
		_, err := s.GetOrCreate(ctx, "zendesk-42", "r1", domain.ChannelZendesk, map[string]any{domain.MetaTicketID: 42})
		require.NoError(t, err)
		require.NoError(t, s.MarkEscalated(ctx, "zendesk-42", "retries exhausted"))

		sess, err := s.Get(ctx, "zendesk-42")
		require.NoError(t, err)
		assert.True(t, sess.Escalated())
		assert.Equal(t, "retries exhausted", sess.Metadata[domain.MetaEscalationReason])
		assert.EqualValues(t, 42, sess.Metadata[domain.MetaTicketID])
	})

	t.Run("expired sessions free capacity and restart", func(t *testing.T) {
		s, advance := factory(t, Options{TTL: time.Hour, MaxSessions: 1})
		_, err := s.GetOrCreate(ctx, "old", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
		require.NoError(t, s.AppendMessage(ctx, "old", domain.RoleUser, "hi"))

		advance(2 * time.Hour)
		n, err := s.ActiveCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.GetOrCreate(ctx, "new", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
		require.NoError(t, s.End(ctx, "new"))

		again, err := s.GetOrCreate(ctx, "old", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
		assert.Empty(t, again.Messages)
	})

	t.Run("reap idle sessions", func(t *testing.T) {
		s, advance := factory(t, Options{})
		_, err := s.GetOrCreate(ctx, "idle", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)
		advance(2 * time.Hour)
		_, err = s.GetOrCreate(ctx, "busy", "u", domain.ChannelWeb, nil)
		require.NoError(t, err)

		n, err := s.Reap(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = s.Get(ctx, "idle")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		active, err := s.ListActive(ctx, 10)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "busy", active[0].SessionID)
	})

	t.Run("ping", func(t *testing.T) {
		s, _ := factory(t, Options{})
		assert.NoError(t, s.Ping(ctx))
	})
}
