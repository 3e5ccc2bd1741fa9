// Package quota enforces per-principal daily and monthly request
// ceilings against the shared counter store.
package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/plan"
	"github.com/quotaplane/quotaplane/internal/store"
)

// LimitError reports an exceeded ceiling; it maps to 429 and carries the
// observed count so the client sees where it stands.
type LimitError struct {
	Scope  string // "daily" or "monthly"
	UserID string
	Count  int64
	Limit  uint64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded for %s. Count: %d, Limit: %d", e.Scope, e.UserID, e.Count, e.Limit)
}

// StoreError wraps a counter-store failure; it maps to 500, never 429.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store error during %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Options tune enforcement behavior.
type Options struct {
	// EnforceMonthly turns the monthly ceiling into a hard reject. The
	// monthly counter is maintained either way.
	EnforceMonthly bool
	// Atomic uses the store-side increment-with-limit operation for the
	// daily check instead of increment-then-check-then-compensate,
	// eliminating the transient overshoot window.
	Atomic bool
}

// Enforcer applies plan ceilings. Because the store exposes no
// check-and-increment primitive, the default path increments first,
// checks the returned count, and compensates with a decrement on
// rejection. Two in-flight requests can therefore briefly overshoot the
// limit by at most one unit each before the decrement lands; the counter
// settles at or below the limit once they drain.
type Enforcer struct {
	store  store.Client
	plans  *plan.Catalog
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewEnforcer(client store.Client, plans *plan.Catalog, opts Options, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{
		store:  client,
		plans:  plans,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// SetNow replaces the clock for tests.
func (e *Enforcer) SetNow(now func() time.Time) { e.now = now }

// DailyKey and MonthlyKey name the period counters for a principal.
func DailyKey(userID string, t time.Time) string {
	return fmt.Sprintf("quota:%s:daily:%s", userID, t.UTC().Format("2006-01-02"))
}

func MonthlyKey(userID string, t time.Time) string {
	return fmt.Sprintf("quota:%s:monthly:%s", userID, t.UTC().Format("2006-01"))
}

// UntilMidnightUTC returns the time remaining until the next UTC day
// starts, used as the daily counter's TTL on first creation.
func UntilMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	d := midnight.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// UntilMonthEndUTC returns the time remaining until the first of the
// next UTC month.
func UntilMonthEndUTC(now time.Time) time.Duration {
	now = now.UTC()
	firstOfNext := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	d := firstOfNext.Sub(now)
	if d < 0 {
		d = 0
	}
	return d
}

// Allow charges one request against the principal's plan. It returns nil
// when the request may proceed, *LimitError when a ceiling rejects it,
// and *StoreError on store failure. Counters for a period are created on
// first increment and expire at the period boundary; they are never
// explicitly deleted otherwise.
func (e *Enforcer) Allow(ctx context.Context, claims *auth.KeyClaims) error {
	p, ok := e.plans.Get(claims.PlanID)
	if !ok {
		return fmt.Errorf("plan %q from key %s not found in configured plans", claims.PlanID, claims.KeyID)
	}

	// Zero limits mean unlimited; skip metering entirely.
	if p.Unlimited() {
		e.logger.Debug("plan has zero limits, allowing request", "plan_id", p.ID, "user_id", claims.UserID)
		return nil
	}

	now := e.now()
	userID := claims.UserID.String()
	dailyKey := DailyKey(userID, now)
	monthlyKey := MonthlyKey(userID, now)

	// A zero daily limit disables the daily ceiling; the atomic store
	// operation treats a non-positive limit the same way.
	if e.opts.Atomic {
		res, err := e.store.IncrWithLimit(ctx, dailyKey, int64(p.DailyLimit), UntilMidnightUTC(now))
		if err != nil {
			return &StoreError{Op: "daily increment", Err: err}
		}
		if !res.Allowed {
			return &LimitError{Scope: "daily", UserID: userID, Count: res.Count, Limit: p.DailyLimit}
		}
	} else {
		count, err := e.store.Incr(ctx, dailyKey)
		if err != nil {
			return &StoreError{Op: "daily increment", Err: err}
		}

		// The counter was just created; pin it to the period boundary.
		if count == 1 {
			if _, err := e.store.Expire(ctx, dailyKey, UntilMidnightUTC(now)); err != nil {
				e.logger.Error("failed to set daily counter expiry", "key", dailyKey, "error", err)
			}
		}

		if p.DailyLimit > 0 && uint64(count) > p.DailyLimit {
			// Undo the optimistic increment before rejecting.
			if _, err := e.store.Decr(ctx, dailyKey); err != nil {
				e.logger.Error("failed to compensate daily counter", "key", dailyKey, "error", err)
			}
			return &LimitError{Scope: "daily", UserID: userID, Count: count, Limit: p.DailyLimit}
		}
	}

	// Monthly bookkeeping. A failure here is an internal error, not a
	// quota rejection, and does not roll back the daily increment.
	monthlyCount, err := e.store.Incr(ctx, monthlyKey)
	if err != nil {
		return &StoreError{Op: "monthly increment", Err: err}
	}
	if monthlyCount == 1 {
		if _, err := e.store.Expire(ctx, monthlyKey, UntilMonthEndUTC(now)); err != nil {
			e.logger.Error("failed to set monthly counter expiry", "key", monthlyKey, "error", err)
		}
	}

	if e.opts.EnforceMonthly && p.MonthlyLimit > 0 && uint64(monthlyCount) > p.MonthlyLimit {
		// The request is fully rejected, so undo both counters.
		if _, err := e.store.Decr(ctx, monthlyKey); err != nil {
			e.logger.Error("failed to compensate monthly counter", "key", monthlyKey, "error", err)
		}
		if _, err := e.store.Decr(ctx, dailyKey); err != nil {
			e.logger.Error("failed to compensate daily counter", "key", dailyKey, "error", err)
		}
		return &LimitError{Scope: "monthly", UserID: userID, Count: monthlyCount, Limit: p.MonthlyLimit}
	}

	e.logger.Debug("limits ok",
		"user_id", userID,
		"plan_id", p.ID,
		"monthly_count", monthlyCount,
		"monthly_limit", p.MonthlyLimit,
	)
	return nil
}
