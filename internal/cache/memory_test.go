package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCache_ExpiryAndSweep(t *testing.T) {
	c := NewMemoryCache(context.Background())
	defer c.Close()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	ctx := context.Background()
	_ = c.Set(ctx, "short", []byte("a"), time.Minute)
	_ = c.Set(ctx, "default", []byte("b"), 0)

	if got, ok := c.Get(ctx, "short"); !ok || string(got) != "a" {
		t.Fatalf("Get(short) = %q, %v", got, ok)
	}

	now = now.Add(2 * time.Minute)

	if _, ok := c.Get(ctx, "short"); ok {
		t.Fatal("short entry should have expired")
	}
	if _, ok := c.Get(ctx, "default"); !ok {
		t.Fatal("zero ttl should default to one hour")
	}

	now = now.Add(2 * time.Hour)
	c.evictExpired()
	if c.Len() != 0 {
		t.Fatalf("expected sweep to empty the cache, Len = %d", c.Len())
	}
}

func TestMemoryCache_SetCopiesValue(t *testing.T) {
	c := NewMemoryCache(context.Background())
	defer c.Close()

	buf := []byte("value")
	_ = c.Set(context.Background(), "k", buf, time.Minute)
	buf[0] = 'X'

	got, _ := c.Get(context.Background(), "k")
	if string(got) != "value" {
		t.Fatalf("cached value was aliased: %q", got)
	}
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	c := NewMemoryCache(context.Background())
	c.Close()
	c.Close()
}
