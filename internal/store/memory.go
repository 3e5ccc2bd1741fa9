package store

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     int64
	expiresAt time.Time // zero = no expiry
}

// MemoryClient is an in-process Client with the same lazy-expiry
// semantics as the shared store. It exists for unit tests and local
// development; state is local to the process.
type MemoryClient struct {
	mu       sync.Mutex
	counters map[string]*memEntry
	hashes   map[string]map[string]string
	now      func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		counters: make(map[string]*memEntry),
		hashes:   make(map[string]map[string]string),
		now:      time.Now,
	}
}

var _ Client = (*MemoryClient)(nil)

// SetNow replaces the clock, letting tests cross period boundaries
// without sleeping.
func (c *MemoryClient) SetNow(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *MemoryClient) get(key string) *memEntry {
	e, ok := c.counters[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.counters, key)
		return nil
	}
	return e
}

func (c *MemoryClient) Incr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(key)
	if e == nil {
		e = &memEntry{}
		c.counters[key] = e
	}
	e.value++
	return e.value, nil
}

func (c *MemoryClient) Decr(ctx context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(key)
	if e == nil {
		e = &memEntry{}
		c.counters[key] = e
	}
	e.value--
	return e.value, nil
}

func (c *MemoryClient) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(key)
	if e == nil {
		return false, nil
	}
	e.expiresAt = c.now().Add(ttl)
	return true, nil
}

func (c *MemoryClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fields := make(map[string]string, len(c.hashes[key]))
	for k, v := range c.hashes[key] {
		fields[k] = v
	}
	return fields, nil
}

func (c *MemoryClient) IncrWithLimit(ctx context.Context, key string, limit int64, ttl time.Duration) (QuotaResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(key)
	if e == nil {
		e = &memEntry{}
		c.counters[key] = e
	}
	e.value++
	if e.value == 1 {
		e.expiresAt = c.now().Add(ttl)
	}
	if limit > 0 && e.value > limit {
		e.value--
		return QuotaResult{Allowed: false, Count: e.value}, nil
	}
	return QuotaResult{Allowed: true, Count: e.value}, nil
}

// HSet seeds hash fields, mirroring what an operator would load into the
// shared store out-of-band.
func (c *MemoryClient) HSet(key string, fields map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hashes[key] == nil {
		c.hashes[key] = make(map[string]string)
	}
	for k, v := range fields {
		c.hashes[key][k] = v
	}
}

// Value returns the current counter value without mutating it; zero if
// absent or expired.
func (c *MemoryClient) Value(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.get(key)
	if e == nil {
		return 0
	}
	return e.value
}
