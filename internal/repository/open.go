package store

import (
	"fmt"
	"strings"
)

// Open picks a session backend from the URL scheme: redis:// and rediss://
// select Redis, file:, sqlite:// and :memory: select SQLite.
func Open(rawURL string, opts Options) (SessionStore, error) {
	switch {
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		return NewRedisStoreFromURL(rawURL, opts)
	case strings.HasPrefix(rawURL, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(rawURL, "sqlite://"), opts)
	case strings.HasPrefix(rawURL, "file:"), strings.HasPrefix(rawURL, ":memory:"):
		return NewSQLiteStore(rawURL, opts)
	default:
		return nil, fmt.Errorf("unsupported store url %q", rawURL)
	}
}
