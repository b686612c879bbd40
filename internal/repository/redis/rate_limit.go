package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

const defaultRateLimitPrefix = "rl"

// fixedWindowScript increments the counter and arms the window expiry on the first write.
// A counter found without expiry is re-armed so it can never outlive one window.
var fixedWindowScript = red.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// FixedWindowStore keeps fixed-window attempt counters in Redis.
type FixedWindowStore struct {
	client *red.Client
	prefix string
}

// NewFixedWindowStore constructs a counter store using the provided Redis client and key prefix.
func NewFixedWindowStore(client *red.Client, keyPrefix string) *FixedWindowStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &FixedWindowStore{client: client, prefix: prefix}
}

// Increment atomically bumps the counter for identifier and reports the count and time to reset.
func (s *FixedWindowStore) Increment(ctx context.Context, identifier string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		return 0, 0, errors.New("window must be positive")
	}
	key := s.key(identifier)
	if key == "" {
		return 0, 0, errors.New("identifier must not be empty")
	}

	values, err := fixedWindowScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("redis fixed window incr: %w", err)
	}
	if len(values) != 2 {
		return 0, 0, fmt.Errorf("redis fixed window incr: unexpected reply length %d", len(values))
	}

	return values[0], time.Duration(values[1]) * time.Millisecond, nil
}

func (s *FixedWindowStore) key(identifier string) string {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", s.prefix, trimmed)
}

var _ port.RateLimitStore = (*FixedWindowStore)(nil)
