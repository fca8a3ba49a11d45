// Package cache provides the shared key/value cache used for upstream
// metadata such as the OpenRouter model catalog.
//
// Two backends are available:
//   - RedisCache: shared across replicas, so one replica's fetch serves all.
//   - MemoryCache: in-process TTL cache with no external dependencies.
//
// Both implement Cache and degrade to misses instead of failing callers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON decodes the value stored under key into dst. A miss or a value
// that no longer decodes both report false.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	if c == nil {
		return false
	}
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}
