// Package cache stores JSON-encoded query responses, in Redis when one is
// configured and in process memory otherwise.
package cache

import (
	"context"
	"time"

	"github.com/okian/lostfits/pkg/metrics"
)

// Backend names, also used as metric labels.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Cache is a TTL key/value store for JSON values.
type Cache interface {
	// Get decodes the value under key into dst and reports whether it was found.
	Get(ctx context.Context, key string, dst any) (bool, error)
	// Set stores v under key. A ttl of zero keeps it until invalidated.
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	Backend() string
	Close() error
}

// Remember returns the cached value under key or, on a miss, computes it
// with fn and caches it for ttl. Cache errors never fail the call.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return fn(ctx)
	}
	var v T
	if ok, err := c.Get(ctx, key, &v); err == nil && ok {
		metrics.RecordCacheLookup(c.Backend(), "hit")
		return v, nil
	} else if err != nil {
		metrics.RecordCacheLookup(c.Backend(), "error")
	} else {
		metrics.RecordCacheLookup(c.Backend(), "miss")
	}

	v, err := fn(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		metrics.RecordErrorByComponent("cache", "set")
	}
	return v, nil
}
