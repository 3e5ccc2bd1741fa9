package middleware

import (
	"net/http"

	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/policy"
)

// RequireUser rejects secured-prefix requests that lack a verified
// session token. The 401 body does not reveal which check failed.
func RequireUser(routes policy.Routes) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routes.Secured(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			_, err := UserClaimsFrom(r.Context())
			switch {
			case err == ErrNoCredential:
				httpx.Unauthorized(w, "no authorization token provided")
				return
			case err != nil:
				httpx.Unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
