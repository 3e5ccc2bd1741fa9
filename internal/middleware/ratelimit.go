package middleware

import (
	"net/http"

	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/limiter"
)

// GlobalRateLimit bounds aggregate throughput before any credential
// work. Rejection is immediate; there is no queueing.
func GlobalRateLimit(g *limiter.Global) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.Allow() {
				httpx.TooManyRequests(w, "server overloaded, please try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
