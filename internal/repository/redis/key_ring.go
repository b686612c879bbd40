package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/danielp1234/saas-metrics-sub000/internal/core/domain"
	"github.com/danielp1234/saas-metrics-sub000/internal/core/port"
)

const defaultKeyRingPrefix = "keyring"

// KeyRingRepository stores wrapped encryption key versions in one hash, plus the rotation lock.
type KeyRingRepository struct {
	client *red.Client
	prefix string
}

// NewKeyRingRepository wires a Redis client into the shared key ring.
func NewKeyRingRepository(client *red.Client, keyPrefix string) *KeyRingRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyRingPrefix
	}
	return &KeyRingRepository{client: client, prefix: prefix}
}

// LoadKeys returns every published version, oldest first.
func (r *KeyRingRepository) LoadKeys(ctx context.Context) ([]domain.WrappedKey, error) {
	raw, err := r.client.HGetAll(ctx, r.versionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall key ring: %w", err)
	}

	keys := make([]domain.WrappedKey, 0, len(raw))
	for field, value := range raw {
		var key domain.WrappedKey
		if err := json.Unmarshal([]byte(value), &key); err != nil {
			return nil, fmt.Errorf("decode key ring version %s: %w", field, err)
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Version < keys[j].Version })
	return keys, nil
}

// AddKey publishes a version with HSETNX so a version is written at most once.
func (r *KeyRingRepository) AddKey(ctx context.Context, key domain.WrappedKey) (bool, error) {
	if key.Version <= 0 || len(key.Wrapped) == 0 {
		return false, errors.New("wrapped key requires a version and material")
	}
	payload, err := json.Marshal(key)
	if err != nil {
		return false, fmt.Errorf("encode key ring version: %w", err)
	}

	added, err := r.client.HSetNX(ctx, r.versionsKey(), strconv.Itoa(key.Version), payload).Result()
	if err != nil {
		return false, fmt.Errorf("redis hsetnx key ring: %w", err)
	}
	return added, nil
}

// RemoveKeys drops purged versions.
func (r *KeyRingRepository) RemoveKeys(ctx context.Context, versions []int) error {
	if len(versions) == 0 {
		return nil
	}
	fields := make([]string, 0, len(versions))
	for _, v := range versions {
		fields = append(fields, strconv.Itoa(v))
	}
	if err := r.client.HDel(ctx, r.versionsKey(), fields...).Err(); err != nil {
		return fmt.Errorf("redis hdel key ring: %w", err)
	}
	return nil
}

// AcquireRotationLock takes the rotation lock for owner until ttl elapses.
func (r *KeyRingRepository) AcquireRotationLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if strings.TrimSpace(owner) == "" {
		return false, errors.New("lock owner must not be empty")
	}
	if ttl <= 0 {
		return false, errors.New("ttl must be positive")
	}
	acquired, err := r.client.SetNX(ctx, r.lockKey(), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx rotation lock: %w", err)
	}
	return acquired, nil
}

// ReleaseRotationLock releases the lock only while owner still holds it.
func (r *KeyRingRepository) ReleaseRotationLock(ctx context.Context, owner string) error {
	if err := compareAndDeleteScript.Run(ctx, r.client, []string{r.lockKey()}, owner).Err(); err != nil {
		return fmt.Errorf("redis release rotation lock: %w", err)
	}
	return nil
}

func (r *KeyRingRepository) versionsKey() string {
	return r.prefix + ":versions"
}

func (r *KeyRingRepository) lockKey() string {
	return r.prefix + ":rotation_lock"
}

var _ port.KeyRingStore = (*KeyRingRepository)(nil)
