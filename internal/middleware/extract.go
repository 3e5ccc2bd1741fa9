package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/quotaplane/quotaplane/internal/auth"
)

// ErrNoCredential is returned by the context accessors when the request
// carried no credential of that kind.
var ErrNoCredential = errors.New("no credential provided")

type contextKey int

const credentialsKey contextKey = iota

// A resolution is either verified claims or the resolution error; a
// request never carries partially-trusted state.
type userResult struct {
	claims *auth.UserClaims
	err    error
}

type keyResult struct {
	claims *auth.KeyClaims
	err    error
}

// credentials is the per-request holder the extraction stage fills in
// place. It is mutable so a stage wrapped OUTSIDE extraction (the audit
// capture stage in rejections mode) can install it up front and still
// observe the resolution afterwards; a plain context value would be
// invisible to anything above the stage that set it. One goroutine per
// request, no locking needed.
type credentials struct {
	user    userResult
	hasUser bool
	key     keyResult
	hasKey  bool
}

func credentialsFrom(ctx context.Context) *credentials {
	c, _ := ctx.Value(credentialsKey).(*credentials)
	return c
}

// ensureCredentials returns the request's holder, attaching a fresh one
// if no outer stage installed it yet.
func ensureCredentials(r *http.Request) (*http.Request, *credentials) {
	if c := credentialsFrom(r.Context()); c != nil {
		return r, c
	}
	c := &credentials{}
	return r.WithContext(context.WithValue(r.Context(), credentialsKey, c)), c
}

// ExtractCredentials parses request headers into at most one credential
// per kind and resolves each eagerly: the bearer token is verified
// against the shared secret, the API-key envelope is decoded into
// claimed key claims. Outcomes are attached to the request context for
// the enforcement stages; extraction itself never rejects.
func ExtractCredentials(jwts *auth.JWTManager) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, creds := ensureCredentials(r)

			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				token := strings.TrimPrefix(header, "Bearer ")
				claims, err := jwts.Verify(token)
				creds.user = userResult{claims: claims, err: err}
				creds.hasUser = true
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				claims, err := auth.DecodeKey(key)
				creds.key = keyResult{claims: claims, err: err}
				creds.hasKey = true
			}

			next.ServeHTTP(w, r)
		})
	}
}

// UserClaimsFrom returns the verified session claims, the resolution
// error, or ErrNoCredential when no bearer token was presented.
func UserClaimsFrom(ctx context.Context) (*auth.UserClaims, error) {
	c := credentialsFrom(ctx)
	if c == nil || !c.hasUser {
		return nil, ErrNoCredential
	}
	return c.user.claims, c.user.err
}

// KeyClaimsFrom returns the claimed (not yet verified) key claims, the
// decode error, or ErrNoCredential when no API key was presented.
func KeyClaimsFrom(ctx context.Context) (*auth.KeyClaims, error) {
	c := credentialsFrom(ctx)
	if c == nil || !c.hasKey {
		return nil, ErrNoCredential
	}
	return c.key.claims, c.key.err
}
