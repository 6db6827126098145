package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idem"
	pendingResult   = "-"
)

// RedisDeduper stores idempotency keys in Redis so all instances agree on
// which task creations already happened.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(userID, key string) string {
	return fmt.Sprintf("%s:%s:%s", userID, dedupeKeyPrefix, key)
}

// Add claims the key. It returns true when the key was newly added.
func (r *RedisDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(userID, key), pendingResult, r.ttl).Result()
}

// Complete attaches the result to a claimed key without extending its TTL.
func (r *RedisDeduper) Complete(ctx context.Context, userID, key, result string) error {
	return r.client.SetArgs(ctx, r.key(userID, key), result, redis.SetArgs{KeepTTL: true, Mode: "XX"}).Err()
}

// Result returns the stored result, or "" when the key is unknown or its
// request has not finished.
func (r *RedisDeduper) Result(ctx context.Context, userID, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(userID, key)).Result()
	if errors.Is(err, redis.Nil) || v == pendingResult {
		return "", nil
	}
	return v, err
}

// Remove deletes a previously recorded key. It is used when downstream
// processing fails so the caller may retry the request.
func (r *RedisDeduper) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
