package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

// SQLiteStore implements SessionStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withParams(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db, opts: opts.withDefaults()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// withParams makes write transactions take the lock up front so concurrent
// creators queue on the busy timeout instead of failing on upgrade.
func withParams(dsn string) string {
	if strings.Contains(dsn, "_txlock=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping implements SessionStore.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return domain.E(domain.ErrStoreUnavailable, "session.ping", s.db.PingContext(ctx))
}

// GetOrCreate implements SessionStore.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, sessionID, userID string, channel domain.Channel, metadata map[string]any) (*domain.Session, error) {
	const op = "session.get_or_create"
	now := s.opts.Now()

	var sess *domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, expiresAt, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if existing != nil && expiresAt > now.UnixMilli() {
			if err := s.touchTx(ctx, tx, sessionID, now); err != nil {
				return err
			}
			msgs, err := s.messagesTx(ctx, tx, sessionID)
			if err != nil {
				return err
			}
			existing.LastActivityAt = now.UTC()
			existing.Messages = msgs
			sess = existing
			return nil
		}
		if existing != nil {
			// Expired but not reaped yet; start over.
			if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
				return err
			}
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, now.UnixMilli()).Scan(&active); err != nil {
			return err
		}
		if active >= s.opts.MaxSessions {
			return domain.E(domain.ErrCapacityExceeded, op, fmt.Errorf("%d active sessions", active))
		}

		meta := mergeMetadata(nil, metadata)
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, user_id, channel, started_at, last_activity_at, expires_at, metadata) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, userID, string(channel), now.UnixMilli(), now.UnixMilli(), now.Add(s.opts.TTL).UnixMilli(), string(encoded))
		if err != nil {
			return err
		}
		sess = &domain.Session{
			SessionID:      sessionID,
			UserID:         userID,
			Channel:        channel,
			StartedAt:      time.UnixMilli(now.UnixMilli()).UTC(),
			LastActivityAt: time.UnixMilli(now.UnixMilli()).UTC(),
			Messages:       []domain.Message{},
			Metadata:       meta,
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return sess, nil
}

// AppendMessage implements SessionStore.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	const op = "session.append"
	now := s.opts.Now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireLive(ctx, tx, op, sessionID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			sessionID, string(role), content, now.UnixMilli()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id = ? AND id NOT IN (
				SELECT id FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?)`,
			sessionID, sessionID, s.opts.HistoryLimit); err != nil {
			return err
		}
		return s.touchTx(ctx, tx, sessionID, now)
	})
	return s.wrap(op, err)
}

// History implements SessionStore.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	const op = "session.history"
	now := s.opts.Now()
	var msgs []domain.Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.requireLive(ctx, tx, op, sessionID, now); err != nil {
			return err
		}
		if err := s.touchTx(ctx, tx, sessionID, now); err != nil {
			return err
		}
		var err error
		msgs, err = s.messagesTx(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return msgs, nil
}

// Get implements SessionStore.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "session.get"
	sess, expiresAt, err := getSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	if sess == nil || expiresAt <= s.opts.Now().UnixMilli() {
		return nil, domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
	}
	msgs, err := s.messagesTx(ctx, s.db, sessionID)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	sess.Messages = msgs
	return sess, nil
}

// End implements SessionStore.
func (s *SQLiteStore) End(ctx context.Context, sessionID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
		return err
	})
	return s.wrap("session.end", err)
}

// MarkEscalated implements SessionStore.
func (s *SQLiteStore) MarkEscalated(ctx context.Context, sessionID, reason string) error {
	const op = "session.mark_escalated"
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sess, _, err := getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess == nil {
			return domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
		}
		meta := mergeMetadata(sess.Metadata, map[string]any{
			domain.MetaEscalated:        true,
			domain.MetaEscalationReason: reason,
		})
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET metadata = ? WHERE session_id = ?`, string(encoded), sessionID)
		return err
	})
	return s.wrap(op, err)
}

// ListActive implements SessionStore.
func (s *SQLiteStore) ListActive(ctx context.Context, limit int) ([]domain.Session, error) {
	const op = "session.list_active"
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, user_id, channel, started_at, last_activity_at, expires_at, metadata
		 FROM sessions WHERE expires_at > ? ORDER BY expires_at ASC LIMIT ?`,
		s.opts.Now().UnixMilli(), limit)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		sess, _, err := scanSession(rows)
		if err != nil {
			return nil, s.wrap(op, err)
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, err)
	}
	return sessions, nil
}

// ActiveCount implements SessionStore.
func (s *SQLiteStore) ActiveCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, s.opts.Now().UnixMilli()).Scan(&n)
	return n, s.wrap("session.active_count", err)
}

// Reap implements SessionStore.
func (s *SQLiteStore) Reap(ctx context.Context, idle time.Duration) (int, error) {
	now := s.opts.Now()
	cutoff := now.Add(-idle).UnixMilli()
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		const stale = `SELECT session_id FROM sessions WHERE last_activity_at < ? OR expires_at <= ?`
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE session_id IN (`+stale+`)`, cutoff, now.UnixMilli()); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE last_activity_at < ? OR expires_at <= ?`, cutoff, now.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, s.wrap("session.reap", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// wrap classifies raw database errors as store failures and passes
// already-classified errors through.
func (s *SQLiteStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		return err
	}
	return domain.E(domain.ErrStoreUnavailable, op, err)
}

func (s *SQLiteStore) requireLive(ctx context.Context, tx *sql.Tx, op, sessionID string, now time.Time) error {
	var expiresAt int64
	err := tx.QueryRowContext(ctx, `SELECT expires_at FROM sessions WHERE session_id = ?`, sessionID).Scan(&expiresAt)
	if err == sql.ErrNoRows || (err == nil && expiresAt <= now.UnixMilli()) {
		return domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
	}
	return err
}

func (s *SQLiteStore) touchTx(ctx context.Context, tx *sql.Tx, sessionID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ?, expires_at = ? WHERE session_id = ?`,
		now.UnixMilli(), now.Add(s.opts.TTL).UnixMilli(), sessionID)
	return err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) messagesTx(ctx context.Context, q querier, sessionID string) ([]domain.Message, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, s.opts.HistoryLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var msg domain.Message
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &msg.Content, &createdAt); err != nil {
			return nil, err
		}
		msg.Role = domain.Role(role)
		msg.Timestamp = time.UnixMilli(createdAt).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers want oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func getSession(ctx context.Context, q querier, sessionID string) (*domain.Session, int64, error) {
	row := q.QueryRowContext(ctx,
		`SELECT session_id, user_id, channel, started_at, last_activity_at, expires_at, metadata FROM sessions WHERE session_id = ?`,
		sessionID)
	sess, expiresAt, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	return sess, expiresAt, err
}

func scanSession(row scanner) (*domain.Session, int64, error) {
	var sess domain.Session
	var channel string
	var startedAt, lastActivity, expiresAt int64
	var metadata sql.NullString
	if err := row.Scan(&sess.SessionID, &sess.UserID, &channel, &startedAt, &lastActivity, &expiresAt, &metadata); err != nil {
		return nil, 0, err
	}
	sess.Channel = domain.Channel(channel)
	sess.StartedAt = time.UnixMilli(startedAt).UTC()
	sess.LastActivityAt = time.UnixMilli(lastActivity).UTC()
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &sess.Metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return &sess, expiresAt, nil
}
