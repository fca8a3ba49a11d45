package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	c, err := NewRedisCacheFromURL(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisCacheFromURL: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, mr
}

func TestRedisCache_MissAndHit(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	if data, ok := c.Get(ctx, "openrouter:models"); ok || data != nil {
		t.Fatalf("expected miss, got %q", data)
	}

	if err := c.Set(ctx, "openrouter:models", []byte(`{"data":[]}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, ok := c.Get(ctx, "openrouter:models")
	if !ok || string(got) != `{"data":[]}` {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	// Keys are namespaced.
	if !mr.Exists(defaultPrefix + "openrouter:models") {
		t.Fatalf("expected prefixed key in redis, keys: %v", mr.Keys())
	}
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newTestRedisCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 10*time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatal("key should exist before TTL expires")
	}

	mr.FastForward(11 * time.Second)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("key should have expired after TTL")
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), time.Hour)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("key should be gone after Delete")
	}
	if err := c.Delete(ctx, "ghost"); err != nil {
		t.Fatalf("Delete of missing key returned error: %v", err)
	}
}

func TestRedisCache_DegradesWhenDown(t *testing.T) {
	c, mr := newTestRedisCache(t)
	mr.Close()

	if _, ok := c.Get(context.Background(), "any"); ok {
		t.Fatal("expected miss when Redis is down")
	}
	if err := c.Set(context.Background(), "any", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set must not fail when Redis is down, got %v", err)
	}
}

func TestNewRedisCacheFromURL_Invalid(t *testing.T) {
	if _, err := NewRedisCacheFromURL(context.Background(), "not-a-valid-url"); err == nil {
		t.Fatal("expected error for invalid URL")
	}
}

func TestJSONHelpers(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()

	type payload struct {
		IDs []string `json:"ids"`
	}

	if err := SetJSON(ctx, c, "json", payload{IDs: []string{"a", "b"}}, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	var got payload
	if !GetJSON(ctx, c, "json", &got) || len(got.IDs) != 2 {
		t.Fatalf("GetJSON = %+v", got)
	}

	_ = c.Set(ctx, "broken", []byte("{"), time.Minute)
	if GetJSON(ctx, c, "broken", &got) {
		t.Fatal("undecodable value must report a miss")
	}

	if GetJSON(ctx, nil, "json", &got) {
		t.Fatal("nil cache must report a miss")
	}
	if err := SetJSON(ctx, nil, "json", got, time.Minute); err != nil {
		t.Fatalf("SetJSON on nil cache: %v", err)
	}
}

var (
	_ Cache = (*RedisCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
