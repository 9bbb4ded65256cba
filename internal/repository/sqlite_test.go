package store

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

func newTestStore(t *testing.T, opts Options) (*SQLiteStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts.Now = clock.Now
	store, err := NewSQLiteStore(":memory:", opts)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestSQLiteSessionStore(t *testing.T) {
	runSessionStoreSuite(t, func(t *testing.T, opts Options) (SessionStore, func(time.Duration)) {
		s, clock := newTestStore(t, opts)
		return s, clock.Advance
	})
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + t.TempDir() + "/sessions.db"

	s, err := NewSQLiteStore(dsn, Options{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if _, err := s.GetOrCreate(ctx, "s1", "u1", domain.ChannelSlack, nil); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := s.AppendMessage(ctx, "s1", domain.RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(dsn, Options{})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	msgs, err := reopened.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" || msgs[0].Role != domain.RoleUser {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(":memory:", Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}

	if _, err := Open("mongodb://localhost", Options{}); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}
