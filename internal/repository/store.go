package store

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// SessionStore holds per-conversation state under a bounded active ceiling.
//
// Every call that touches a live session refreshes its last activity time and
// its sliding TTL. Backend failures are reported as domain.ErrStoreUnavailable.
type SessionStore interface {
	// GetOrCreate returns the live session for sessionID with its trimmed
	// history, creating it when absent. Creation fails with
	// domain.ErrCapacityExceeded once MaxSessions are active. metadata is
	// merged into new sessions only.
	GetOrCreate(ctx context.Context, sessionID, userID string, channel domain.Channel, metadata map[string]any) (*domain.Session, error)
	// AppendMessage adds one message, dropping the oldest past HistoryLimit.
	AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error
	// History returns messages oldest first. Unknown ids yield domain.ErrNotFound.
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	// Get returns the session without refreshing it.
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// End deletes the session. Ending an unknown session is not an error.
	End(ctx context.Context, sessionID string) error
	// MarkEscalated flags the session for human follow-up.
	MarkEscalated(ctx context.Context, sessionID, reason string) error
	// ListActive returns up to limit live sessions without their messages.
	ListActive(ctx context.Context, limit int) ([]domain.Session, error)
	ActiveCount(ctx context.Context) (int64, error)
	// Reap deletes sessions idle for longer than idle and reports how many.
	Reap(ctx context.Context, idle time.Duration) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options bound session lifetime and size.
type Options struct {
	MaxSessions  int
	TTL          time.Duration
	HistoryLimit int
	// Now overrides the clock in tests.
	Now func() time.Time
}

const (
	defaultMaxSessions  = 10000
	defaultTTL          = 24 * time.Hour
	defaultHistoryLimit = 50
)

func (o Options) withDefaults() Options {
	if o.MaxSessions <= 0 {
		o.MaxSessions = defaultMaxSessions
	}
	if o.TTL <= 0 {
		o.TTL = defaultTTL
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = defaultHistoryLimit
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func mergeMetadata(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
