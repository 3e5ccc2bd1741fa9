// Package plan models subscription plans and the process-wide catalog
// the quota enforcer reads limits from. Plans originate from billing
// provider metadata, loaded at startup and refreshed out-of-band; they
// are never fetched per-request.
package plan

import (
	"context"
	"fmt"
	"sync"
)

// Plan carries the request ceilings attached to a subscription tier.
// A zero limit means unlimited, not blocked.
type Plan struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DailyLimit   uint64 `json:"daily_limit"`
	MonthlyLimit uint64 `json:"monthly_limit"`
}

// Unlimited reports whether the plan carries no ceilings at all. A
// single zero limit only disables that scope, not metering as a whole.
func (p Plan) Unlimited() bool {
	return p.DailyLimit == 0 && p.MonthlyLimit == 0
}

// Source supplies plan records from a billing provider or equivalent.
type Source interface {
	Plans(ctx context.Context) ([]Plan, error)
}

// Catalog is the shared, read-mostly plan cache. Callers need no
// locking; refreshes swap the whole set.
type Catalog struct {
	mu    sync.RWMutex
	plans map[string]Plan
}

func NewCatalog() *Catalog {
	return &Catalog{plans: make(map[string]Plan)}
}

func (c *Catalog) Get(id string) (Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[id]
	return p, ok
}

// Replace swaps the current plan set.
func (c *Catalog) Replace(plans []Plan) {
	next := make(map[string]Plan, len(plans))
	for _, p := range plans {
		next[p.ID] = p
	}

	c.mu.Lock()
	c.plans = next
	c.mu.Unlock()
}

// Refresh pulls the plan set from a source and swaps it in atomically.
func (c *Catalog) Refresh(ctx context.Context, src Source) error {
	plans, err := src.Plans(ctx)
	if err != nil {
		return fmt.Errorf("refresh plans: %w", err)
	}
	c.Replace(plans)
	return nil
}

// StaticSource serves a fixed plan list, for tests and config-driven
// deployments.
type StaticSource []Plan

func (s StaticSource) Plans(ctx context.Context) ([]Plan, error) {
	return []Plan(s), nil
}
