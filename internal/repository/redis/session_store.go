package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

const defaultSessionPrefix = "sess"

// createSessionScript writes the record and its index entry together.
// The index lives at least as long as its longest-lived member.
var createSessionScript = red.NewScript(`
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
local ttl = redis.call('PTTL', KEYS[2])
if ttl < tonumber(ARGV[2]) then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

// enforceLimitScript drops index entries whose record already expired, then evicts the
// oldest-created sessions until fewer than ARGV[2] remain.
var enforceLimitScript = red.NewScript(`
local prefix = ARGV[1]
local max = tonumber(ARGV[2])
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  if redis.call('EXISTS', prefix .. id) == 0 then
    redis.call('ZREM', KEYS[1], id)
  end
end
local evicted = {}
local count = redis.call('ZCARD', KEYS[1])
while count >= max and count > 0 do
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0)
  redis.call('ZREM', KEYS[1], oldest[1])
  redis.call('DEL', prefix .. oldest[1])
  table.insert(evicted, oldest[1])
  count = count - 1
end
return evicted
`)

// SessionStore persists sessions as JSON records with a per-user sorted-set index scored by issue time.
type SessionStore struct {
	client *red.Client
	prefix string
}

// NewSessionStore constructs a Redis session store under keyPrefix.
func NewSessionStore(client *red.Client, keyPrefix string) *SessionStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultSessionPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

// Create persists the session with the given TTL and indexes it under its user.
func (s *SessionStore) Create(ctx context.Context, session domain.Session, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	if strings.TrimSpace(session.ID) == "" || strings.TrimSpace(session.UserID) == "" {
		return errors.New("session id and user id are required")
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	keys := []string{s.recordKey(session.ID), s.indexKey(session.UserID)}
	args := []any{payload, ttl.Milliseconds(), session.IssuedAt.UnixMilli(), session.ID}
	if err := createSessionScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	return nil
}

// Get loads a session. A missing or expired record yields (nil, nil).
func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is required")
	}

	raw, err := s.client.Get(ctx, s.recordKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

// Delete removes the record and its index entry. Deleting an unknown session is not an error.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	_, err = s.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.Del(ctx, s.recordKey(sessionID))
		pipe.ZRem(ctx, s.indexKey(session.UserID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

// EnforceLimit evicts the oldest-created sessions until fewer than maxSessions remain.
func (s *SessionStore) EnforceLimit(ctx context.Context, userID string, maxSessions int) ([]string, error) {
	if maxSessions <= 0 {
		return nil, errors.New("max sessions must be positive")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	evicted, err := enforceLimitScript.Run(ctx, s.client,
		[]string{s.indexKey(userID)}, s.recordKey(""), maxSessions).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redis enforce session limit: %w", err)
	}
	return evicted, nil
}

// ListByUser returns the live sessions of a user, oldest first, pruning index entries whose record expired.
func (s *SessionStore) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user id is required")
	}

	index := s.indexKey(userID)
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load sessions: %w", err)
	}

	sessions := make([]domain.Session, 0, len(values))
	var stale []any
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, session)
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, index, stale...).Err(); err != nil {
			return nil, fmt.Errorf("redis prune session index: %w", err)
		}
	}
	return sessions, nil
}

func (s *SessionStore) recordKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sessionID)
}

func (s *SessionStore) indexKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", s.prefix, userID)
}

var _ port.SessionStore = (*SessionStore)(nil)
