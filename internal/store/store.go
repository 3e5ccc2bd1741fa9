// Package store abstracts the shared counter store used for quota
// bookkeeping and plan metadata. All mutation is via atomic single-key
// operations; no cross-key transactions are assumed available.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrUnavailable = errors.New("counter store unavailable")

// QuotaResult is the outcome of an atomic increment-with-limit call.
type QuotaResult struct {
	Allowed bool
	Count   int64
}

// Client is the counter-store abstraction. Implementations must be safe
// for concurrent use.
type Client interface {
	// Incr atomically increments the counter at key and returns the new value,
	// creating it at 1 if absent.
	Incr(ctx context.Context, key string) (int64, error)

	// Decr atomically decrements the counter at key and returns the new value.
	Decr(ctx context.Context, key string) (int64, error)

	// Expire sets the TTL of key. Returns false if the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// HGetAll returns all fields of the hash at key; empty map if absent.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// IncrWithLimit performs increment, first-creation expiry, and the limit
	// check as a single store-side operation, undoing the increment when the
	// limit would be exceeded. limit <= 0 means unlimited.
	IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (QuotaResult, error)
}
