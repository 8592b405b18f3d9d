package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/noah-isme/sma-digest-notifier/pkg/errors"
)

const keyNamespace = "digest-notifier:"

// CacheRepository stores cached identities and delivery claims in Redis. All
// keys are namespaced. A nil client turns every call into a miss or a no-op.
type CacheRepository struct {
	client *redis.Client
}

// NewCacheRepository constructs a cache repository. client may be nil.
func NewCacheRepository(client *redis.Client) *CacheRepository {
	return &CacheRepository{client: client}
}

func namespaced(key string) string {
	return keyNamespace + key
}

// Get decodes the JSON value stored under key into dest.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, namespaced(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return appErrors.ErrCacheMiss
	case err != nil:
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached %s: %w", key, err)
	}
	return nil
}

// Set stores value as JSON under key for ttl.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return wrapRedis("set", key, r.client.Set(ctx, namespaced(key), payload, ttl).Err())
}

// Claim atomically marks key as taken. It returns false when the key was
// already claimed. Without a client every claim succeeds.
func (r *CacheRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, namespaced(key), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, wrapRedis("setnx", key, err)
	}
	return ok, nil
}

// Release drops a claim so the key can be taken again.
func (r *CacheRepository) Release(ctx context.Context, key string) error {
	if r.client == nil {
		return nil
	}
	return wrapRedis("del", key, r.client.Del(ctx, namespaced(key)).Err())
}

// Close releases the underlying connection.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func wrapRedis(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("redis %s %s: %w", op, key, err)
}
