package middleware

import (
	"context"
	"net/http"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/policy"
)

// KeyVerifier performs the secondary check on a claimed key: stored hash
// matches the secret and the key is still active.
type KeyVerifier interface {
	Verify(ctx context.Context, claims *auth.KeyClaims) error
}

// RequireAPIKey rejects metered-prefix requests whose key envelope is
// missing, malformed, revoked, or fails the secret check. The envelope's
// claims are never trusted before this stage passes.
func RequireAPIKey(verifier KeyVerifier, routes policy.Routes) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routes.Metered(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := KeyClaimsFrom(r.Context())
			if err == ErrNoCredential {
				httpx.Unauthorized(w, "no API key provided")
				return
			}
			if err != nil {
				httpx.Unauthorized(w, "invalid key")
				return
			}

			if err := verifier.Verify(r.Context(), claims); err != nil {
				httpx.Unauthorized(w, "invalid key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
