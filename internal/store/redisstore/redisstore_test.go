package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskbridge/internal/store"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client)
}

func TestPutGetRoundTrip(t *testing.T) {
	rs := newTestStore(t)
	ctx := context.Background()

	result := "42"
	item := &store.Item{MessageID: "msg-1", Status: store.StatusSuccess, Result: &result}
	if err := rs.Put(ctx, item, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := rs.Get(ctx, "msg-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Result == nil || *got.Result != "42" {
		t.Fatalf("got result %v, want \"42\"", got.Result)
	}
}

func TestGetMissingKey(t *testing.T) {
	rs := newTestStore(t)
	_, err := rs.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrKeyNotFound) {
		t.Fatalf("got %v, want ErrKeyNotFound", err)
	}
}

func TestPutWithoutOverwriteRejectsExisting(t *testing.T) {
	rs := newTestStore(t)
	ctx := context.Background()

	item := &store.Item{MessageID: "msg-1", Status: store.StatusSubmitted}
	if err := rs.Put(ctx, item, false); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	err := rs.Put(ctx, item, false)
	if !errors.Is(err, store.ErrKeyAlreadyExists) {
		t.Fatalf("got %v, want ErrKeyAlreadyExists", err)
	}
}

func TestPutHonoursExpirationTTL(t *testing.T) {
	rs := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(time.Minute).Unix()
	item := &store.Item{MessageID: "msg-1", Status: store.StatusSubmitted, Expiration: &exp}
	if err := rs.Put(ctx, item, true); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ttl := rs.client.TTL(ctx, rs.key("msg-1")).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("got ttl %v, want (0, 1m]", ttl)
	}
}

func TestGetUnparseableData(t *testing.T) {
	rs := newTestStore(t)
	ctx := context.Background()

	if err := rs.client.Set(ctx, rs.key("msg-1"), "not json", 0).Err(); err != nil {
		t.Fatalf("seed bad data: %v", err)
	}

	_, err := rs.Get(ctx, "msg-1")
	if !errors.Is(err, store.ErrUnparseable) {
		t.Fatalf("got %v, want ErrUnparseable", err)
	}
}
