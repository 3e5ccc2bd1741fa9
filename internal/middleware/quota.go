package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/policy"
	"github.com/quotaplane/quotaplane/internal/quota"
	"github.com/quotaplane/quotaplane/internal/reliability"
)

// QuotaEnforcer charges one request against the principal's plan.
type QuotaEnforcer interface {
	Allow(ctx context.Context, claims *auth.KeyClaims) error
}

// EnforceQuota applies plan ceilings on metered paths. Requests without
// key claims pass through un-metered (logged at warn, not an error).
// Counter operations run on a context detached from the client
// connection so a mid-request disconnect cannot strand a half-applied
// increment.
func EnforceQuota(enf QuotaEnforcer, routes policy.Routes, strategy reliability.FailureStrategy, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routes.Metered(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := KeyClaimsFrom(r.Context())
			if err != nil {
				logger.Warn("no API key on metered path, skipping quota", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			err = enf.Allow(context.WithoutCancel(r.Context()), claims)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var limitErr *quota.LimitError
			if errors.As(err, &limitErr) {
				httpx.TooManyRequests(w, limitErr.Error())
				return
			}

			var storeErr *quota.StoreError
			if errors.As(err, &storeErr) && reliability.ShouldAllow(strategy, storeErr) {
				logger.Error("counter store failed, allowing request", "error", storeErr, "strategy", strategy)
				next.ServeHTTP(w, r)
				return
			}

			logger.Error("quota enforcement failed", "error", err, "user_id", claims.UserID)
			httpx.Internal(w)
		})
	}
}
