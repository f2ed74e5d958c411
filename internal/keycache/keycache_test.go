package keycache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

var sampleKey = json.RawMessage(`{"kty":"RSA","kid":"key-1","n":"abc","e":"AQAB"}`)

func TestMemoryCacheStoreLookup(t *testing.T) {
	cache := NewMemory(500 * time.Millisecond)
	ctx := context.Background()

	entry := Entry{Key: sampleKey, StoredAt: time.Now().UTC()}
	entry.ExpiresAt = entry.StoredAt.Add(500 * time.Millisecond)

	if err := cache.Store(ctx, "key-1", entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := cache.Lookup(ctx, "key-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(got.Key) != string(sampleKey) {
		t.Fatalf("unexpected entry: %s", got.Key)
	}

	_, ok, err = cache.Lookup(ctx, "key-2")
	if err != nil {
		t.Fatalf("lookup miss: %v", err)
	}
	if ok {
		t.Fatalf("expected cache miss for unknown kid")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()

	stored := time.Now().UTC().Add(-2 * time.Minute)
	entry := Entry{Key: sampleKey, StoredAt: stored, ExpiresAt: stored.Add(time.Minute)}
	if err := cache.Store(ctx, "key-1", entry); err != nil {
		t.Fatalf("store: %v", err)
	}

	_, ok, err := cache.Lookup(ctx, "key-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestMemoryCacheDefaultsExpiry(t *testing.T) {
	cache := NewMemory(time.Minute)
	ctx := context.Background()

	if err := cache.Store(ctx, "key-1", Entry{Key: sampleKey}); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, ok, err := cache.Lookup(ctx, "key-1")
	if err != nil || !ok {
		t.Fatalf("lookup: ok=%v err=%v", ok, err)
	}
	if !got.ExpiresAt.After(got.StoredAt) {
		t.Fatalf("expected expiry after store time, got %v <= %v", got.ExpiresAt, got.StoredAt)
	}
}

func TestRedisCacheStoreLookup(t *testing.T) {
	srv := miniredis.RunT(t)

	cache, err := NewRedis(RedisConfig{Address: srv.Addr(), TTL: time.Minute})
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	ctx := context.Background()
	defer func() {
		if err := cache.Close(ctx); err != nil {
			t.Fatalf("close: %v", err)
		}
	}()

	if err := cache.Store(ctx, "key-1", Entry{Key: sampleKey}); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := cache.Lookup(ctx, "key-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(got.Key) != string(sampleKey) {
		t.Fatalf("unexpected entry: %s", got.Key)
	}

	if !srv.Exists(keyPrefix + "key-1") {
		t.Fatalf("expected namespaced key in redis")
	}

	_, ok, err = cache.Lookup(ctx, "key-2")
	if err != nil {
		t.Fatalf("lookup miss: %v", err)
	}
	if ok {
		t.Fatalf("expected cache miss for unknown kid")
	}
}

func TestRedisCacheExpiry(t *testing.T) {
	srv := miniredis.RunT(t)

	cache, err := NewRedis(RedisConfig{Address: srv.Addr(), TTL: time.Second})
	if err != nil {
		t.Fatalf("new redis cache: %v", err)
	}
	ctx := context.Background()
	defer func() { _ = cache.Close(ctx) }()

	if err := cache.Store(ctx, "key-1", Entry{Key: sampleKey}); err != nil {
		t.Fatalf("store: %v", err)
	}

	srv.FastForward(2 * time.Second)

	_, ok, err := cache.Lookup(ctx, "key-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestRedisCacheRequiresAddress(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing address")
	}
}
