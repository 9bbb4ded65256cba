package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaot623/gogo/helpdesk/internal/domain"
)

const (
	sessionKeyPrefix = "session:"
	activeSessionKey = "sessions:active"
)

// The active set scores each session id by its expiry time in unix ms, so
// pruning everything scored at or below now leaves exactly the live sessions.

// KEYS: session hash, messages list, active set.
// ARGV: now, ttl, expiry, max, id, user_id, channel, metadata.
var getOrCreateScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
local created = 0
if redis.call('EXISTS', KEYS[1]) == 1 then
  redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1])
else
  if redis.call('ZCARD', KEYS[3]) >= tonumber(ARGV[4]) then
    return {-1}
  end
  redis.call('DEL', KEYS[2])
  redis.call('HSET', KEYS[1], 'user_id', ARGV[6], 'channel', ARGV[7],
    'started_at', ARGV[1], 'last_activity_at', ARGV[1], 'metadata', ARGV[8])
  created = 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[5])
return {created, redis.call('HGETALL', KEYS[1]), redis.call('LRANGE', KEYS[2], 0, -1)}
`)

// KEYS: session hash, messages list, active set.
// ARGV: now, ttl, expiry, id, history limit, message (optional).
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return false
end
if ARGV[6] then
  redis.call('RPUSH', KEYS[2], ARGV[6])
  redis.call('LTRIM', KEYS[2], -tonumber(ARGV[5]), -1)
end
redis.call('HSET', KEYS[1], 'last_activity_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
return redis.call('LRANGE', KEYS[2], 0, -1)
`)

// RedisStore implements SessionStore on Redis.
type RedisStore struct {
	rdb  redis.UniversalClient
	opts Options
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, opts Options) *RedisStore {
	return &RedisStore{rdb: rdb, opts: opts.withDefaults()}
}

// NewRedisStoreFromURL connects using a redis:// or rediss:// URL.
func NewRedisStoreFromURL(rawURL string, opts Options) (*RedisStore, error) {
	o, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(o), opts), nil
}

func sessionKey(id string) string  { return sessionKeyPrefix + id }
func messagesKey(id string) string { return sessionKeyPrefix + id + ":messages" }

func (s *RedisStore) clock() (now, expiry string) {
	t := s.opts.Now()
	return ms(t), ms(t.Add(s.opts.TTL))
}

func ms(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }

// GetOrCreate implements SessionStore.
func (s *RedisStore) GetOrCreate(ctx context.Context, sessionID, userID string, channel domain.Channel, metadata map[string]any) (*domain.Session, error) {
	const op = "session.get_or_create"
	meta, err := json.Marshal(mergeMetadata(nil, metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	now, expiry := s.clock()
	res, err := getOrCreateScript.Run(ctx, s.rdb,
		[]string{sessionKey(sessionID), messagesKey(sessionID), activeSessionKey},
		now, s.opts.TTL.Milliseconds(), expiry, s.opts.MaxSessions, sessionID,
		userID, string(channel), string(meta),
	).Slice()
	if err != nil {
		return nil, domain.E(domain.ErrStoreUnavailable, op, err)
	}
	if len(res) == 0 {
		return nil, domain.E(domain.ErrStoreUnavailable, op, errors.New("empty script reply"))
	}
	if status, _ := res[0].(int64); status < 0 {
		return nil, domain.E(domain.ErrCapacityExceeded, op,
			fmt.Errorf("%d active sessions", s.opts.MaxSessions))
	}
	if len(res) < 3 {
		return nil, domain.E(domain.ErrStoreUnavailable, op, errors.New("short script reply"))
	}

	sess, err := decodeSessionHash(sessionID, toStrings(res[1]))
	if err != nil {
		return nil, err
	}
	msgs, err := decodeMessages(toStrings(res[2]))
	if err != nil {
		return nil, err
	}
	sess.Messages = domain.TrimHistory(msgs, s.opts.HistoryLimit)
	return sess, nil
}

// AppendMessage implements SessionStore.
func (s *RedisStore) AppendMessage(ctx context.Context, sessionID string, role domain.Role, content string) error {
	const op = "session.append"
	raw, err := json.Marshal(domain.Message{Role: role, Content: content, Timestamp: s.opts.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	_, err = s.touch(ctx, op, sessionID, string(raw))
	return err
}

// History implements SessionStore.
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	msgs, err := s.touch(ctx, "session.history", sessionID)
	if err != nil {
		return nil, err
	}
	return domain.TrimHistory(msgs, s.opts.HistoryLimit), nil
}

func (s *RedisStore) touch(ctx context.Context, op, sessionID string, message ...string) ([]domain.Message, error) {
	now, expiry := s.clock()
	args := []any{now, s.opts.TTL.Milliseconds(), expiry, sessionID, s.opts.HistoryLimit}
	for _, m := range message {
		args = append(args, m)
	}
	res, err := touchScript.Run(ctx, s.rdb,
		[]string{sessionKey(sessionID), messagesKey(sessionID), activeSessionKey}, args...,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
	}
	if err != nil {
		return nil, domain.E(domain.ErrStoreUnavailable, op, err)
	}
	return decodeMessages(res)
}

// Get implements SessionStore.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	const op = "session.get"
	var fields *redis.MapStringStringCmd
	var msgs *redis.StringSliceCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, sessionKey(sessionID))
		msgs = p.LRange(ctx, messagesKey(sessionID), 0, -1)
		return nil
	})
	if err != nil {
		return nil, domain.E(domain.ErrStoreUnavailable, op, err)
	}
	if len(fields.Val()) == 0 {
		return nil, domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
	}
	sess, err := sessionFromMap(sessionID, fields.Val())
	if err != nil {
		return nil, err
	}
	decoded, err := decodeMessages(msgs.Val())
	if err != nil {
		return nil, err
	}
	sess.Messages = domain.TrimHistory(decoded, s.opts.HistoryLimit)
	return sess, nil
}

// End implements SessionStore.
func (s *RedisStore) End(ctx context.Context, sessionID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(sessionID), messagesKey(sessionID))
		p.ZRem(ctx, activeSessionKey, sessionID)
		return nil
	})
	return domain.E(domain.ErrStoreUnavailable, "session.end", err)
}

// MarkEscalated implements SessionStore.
func (s *RedisStore) MarkEscalated(ctx context.Context, sessionID, reason string) error {
	const op = "session.mark_escalated"
	key := sessionKey(sessionID)
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return domain.E(domain.ErrNotFound, op, fmt.Errorf("session %q", sessionID))
		}
		meta := map[string]any{}
		if raw := fields["metadata"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil || meta == nil {
				meta = map[string]any{}
			}
		}
		meta[domain.MetaEscalated] = true
		meta[domain.MetaEscalationReason] = reason
		encoded, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "metadata", string(encoded))
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.E(domain.ErrStoreUnavailable, op, err)
	}
	return domain.E(domain.ErrStoreUnavailable, op, errors.New("too much contention"))
}

// ListActive implements SessionStore.
func (s *RedisStore) ListActive(ctx context.Context, limit int) ([]domain.Session, error) {
	const op = "session.list_active"
	now, _ := s.clock()
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.rdb.ZRangeByScore(ctx, activeSessionKey, &redis.ZRangeBy{
		Min: "(" + now, Max: "+inf", Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, domain.E(domain.ErrStoreUnavailable, op, err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = p.HGetAll(ctx, sessionKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, domain.E(domain.ErrStoreUnavailable, op, err)
	}

	sessions := make([]domain.Session, 0, len(ids))
	for i, id := range ids {
		if len(cmds[i].Val()) == 0 {
			continue
		}
		sess, err := sessionFromMap(id, cmds[i].Val())
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, nil
}

// ActiveCount implements SessionStore.
func (s *RedisStore) ActiveCount(ctx context.Context) (int64, error) {
	now, _ := s.clock()
	n, err := s.rdb.ZCount(ctx, activeSessionKey, "("+now, "+inf").Result()
	return n, domain.E(domain.ErrStoreUnavailable, "session.active_count", err)
}

// Reap implements SessionStore.
func (s *RedisStore) Reap(ctx context.Context, idle time.Duration) (int, error) {
	const op = "session.reap"
	t := s.opts.Now()
	// last activity before t-idle means expiry before t-idle+ttl
	cutoff := ms(t.Add(-idle).Add(s.opts.TTL))
	ids, err := s.rdb.ZRangeByScore(ctx, activeSessionKey, &redis.ZRangeBy{Min: "-inf", Max: "(" + cutoff}).Result()
	if err != nil {
		return 0, domain.E(domain.ErrStoreUnavailable, op, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)*2)
	members := make([]any, len(ids))
	for i, id := range ids {
		keys = append(keys, sessionKey(id), messagesKey(id))
		members[i] = id
	}
	var removed *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, keys...)
		removed = p.ZRem(ctx, activeSessionKey, members...)
		return nil
	})
	if err != nil {
		return 0, domain.E(domain.ErrStoreUnavailable, op, err)
	}
	return int(removed.Val()), nil
}

// Ping implements SessionStore.
func (s *RedisStore) Ping(ctx context.Context) error {
	return domain.E(domain.ErrStoreUnavailable, "session.ping", s.rdb.Ping(ctx).Err())
}

// Close implements SessionStore.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func toStrings(v any) []string {
	items, _ := v.([]any)
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func decodeSessionHash(id string, flat []string) (*domain.Session, error) {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return sessionFromMap(id, m)
}

func sessionFromMap(id string, m map[string]string) (*domain.Session, error) {
	sess := &domain.Session{
		SessionID:      id,
		UserID:         m["user_id"],
		Channel:        domain.Channel(m["channel"]),
		StartedAt:      parseMillis(m["started_at"]),
		LastActivityAt: parseMillis(m["last_activity_at"]),
		Messages:       []domain.Message{},
	}
	if raw := m["metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &sess.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode session metadata: %w", err)
		}
	}
	return sess, nil
}

func parseMillis(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n).UTC()
}

func decodeMessages(raw []string) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(raw))
	for _, r := range raw {
		var m domain.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
