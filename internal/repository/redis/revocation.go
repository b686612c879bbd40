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

const defaultRevocationPrefix = "revoked"

// compareAndDeleteScript deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDeleteScript = red.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RevocationRepository manages token id revocation state backed by Redis.
type RevocationRepository struct {
	client *red.Client
	prefix string
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client *red.Client, keyPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}

	return &RevocationRepository{client: client, prefix: prefix}
}

// MarkRevoked stores the supplied token id with reason and TTL matching the token expiration window.
func (r *RevocationRepository) MarkRevoked(ctx context.Context, tokenID string, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.key(tokenID)
	if key == "" {
		return errors.New("token id must not be empty")
	}

	if err := r.client.Set(ctx, key, reasonOrDefault(reason), ttl).Err(); err != nil {
		return fmt.Errorf("redis set revoked token: %w", err)
	}

	return nil
}

// Claim revokes the token id only if no revocation exists yet. It returns false when another caller got there first.
func (r *RevocationRepository) Claim(ctx context.Context, tokenID string, reason string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("ttl must be positive")
	}

	key := r.key(tokenID)
	if key == "" {
		return false, errors.New("token id must not be empty")
	}

	claimed, err := r.client.SetNX(ctx, key, reasonOrDefault(reason), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx revoked token: %w", err)
	}

	return claimed, nil
}

// Release drops a claim written with reason. Revocations recorded with another reason survive.
func (r *RevocationRepository) Release(ctx context.Context, tokenID string, reason string) (bool, error) {
	key := r.key(tokenID)
	if key == "" {
		return false, errors.New("token id must not be empty")
	}

	deleted, err := compareAndDeleteScript.Run(ctx, r.client, []string{key}, reasonOrDefault(reason)).Int64()
	if err != nil {
		return false, fmt.Errorf("redis release revoked token: %w", err)
	}

	return deleted == 1, nil
}

// IsRevoked reports whether the token id has been revoked and returns the stored reason when present.
func (r *RevocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, string, error) {
	key := r.key(tokenID)
	if key == "" {
		return false, "", errors.New("token id must not be empty")
	}

	value, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return false, "", nil
		}
		return false, "", fmt.Errorf("redis get revoked token: %w", err)
	}

	return true, value, nil
}

func (r *RevocationRepository) key(tokenID string) string {
	trimmed := strings.TrimSpace(tokenID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

func reasonOrDefault(reason string) string {
	value := strings.TrimSpace(reason)
	if value == "" {
		return "revoked"
	}
	return value
}

var _ port.RevocationStore = (*RevocationRepository)(nil)
