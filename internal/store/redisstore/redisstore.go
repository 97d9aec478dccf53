// Package redisstore implements store.Backend over Redis, using SETNX for
// conditional writes and native key TTL for row expiration, mirroring the
// way the teacher backs its persistence layer with a single well-supported
// client library rather than hand-rolled connection pooling.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskbridge/internal/store"
)

const keyPrefix = "bridge:item:"

// RedisStore is a store.Backend backed by a single Redis instance.
type RedisStore struct {
	client *redis.Client
}

// New builds a RedisStore from a connection URL (redis://host:port/db).
func New(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an already-constructed client, for tests against
// miniredis or a shared pool.
func NewWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping checks connectivity, used by the /ready probe.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(messageID string) string {
	return keyPrefix + messageID
}

// Put writes item, honoring allowOverwrite via SETNX vs SET, and derives the
// Redis key TTL from item.Expiration when present.
func (r *RedisStore) Put(ctx context.Context, item *store.Item, allowOverwrite bool) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	ttl := time.Duration(0)
	if item.Expiration != nil {
		remaining := time.Until(time.Unix(*item.Expiration, 0))
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		ttl = remaining
	}

	key := r.key(item.MessageID)

	if !allowOverwrite {
		ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
		if err != nil {
			return fmt.Errorf("redis setnx: %w", err)
		}
		if !ok {
			return store.ErrKeyAlreadyExists
		}
		return nil
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get performs a strongly-consistent read (Redis has no stale-read path) and
// unmarshals the stored row.
func (r *RedisStore) Get(ctx context.Context, messageID string) (*store.Item, error) {
	data, err := r.client.Get(ctx, r.key(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var item store.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnparseable, err)
	}
	return &item, nil
}
