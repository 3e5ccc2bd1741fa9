package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/limiter"
	"github.com/quotaplane/quotaplane/internal/policy"
	"github.com/quotaplane/quotaplane/internal/quota"
	"github.com/quotaplane/quotaplane/internal/reliability"
)

var testRoutes = policy.DefaultRoutes()

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func errorBody(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}
	var body httpx.ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("Rejection body is not a JSON error envelope: %v", err)
	}
	return body.Error
}

func TestExtractCredentials(t *testing.T) {
	jwts := auth.NewJWTManager("secret", time.Hour)
	userID := uuid.New()
	token, err := jwts.Generate(userID, "")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	keyClaims := auth.KeyClaims{UserID: userID, PlanID: "pro", KeyID: uuid.New(), Secret: "s"}

	var gotUser *auth.UserClaims
	var gotKey *auth.KeyClaims
	var userErr, keyErr error
	h := ExtractCredentials(jwts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, userErr = UserClaimsFrom(r.Context())
		gotKey, keyErr = KeyClaimsFrom(r.Context())
	}))

	// 1. Both credentials present and valid.
	req := httptest.NewRequest("GET", "/any", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-API-Key", keyClaims.Encode())
	h.ServeHTTP(httptest.NewRecorder(), req)

	if userErr != nil || gotUser == nil || gotUser.UserID != userID {
		t.Errorf("Expected verified user claims, got %v / %v", gotUser, userErr)
	}
	if keyErr != nil || gotKey == nil || gotKey.KeyID != keyClaims.KeyID {
		t.Errorf("Expected decoded key claims, got %v / %v", gotKey, keyErr)
	}

	// 2. No headers: accessors report absence, request still passes.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/any", nil))
	if userErr != ErrNoCredential || keyErr != ErrNoCredential {
		t.Errorf("Expected ErrNoCredential for both kinds, got %v / %v", userErr, keyErr)
	}
	if rr.Code != 200 {
		t.Errorf("Extraction must never reject, got %d", rr.Code)
	}

	// 3. Invalid token: the error rides the context, no partial trust.
	req = httptest.NewRequest("GET", "/any", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if userErr != auth.ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken, got %v", userErr)
	}
	if gotUser != nil {
		t.Errorf("No claims should accompany a failed verification, got %+v", gotUser)
	}
}

func TestRequireUser(t *testing.T) {
	jwts := auth.NewJWTManager("secret", time.Hour)
	token, _ := jwts.Generate(uuid.New(), "")

	h := Chain(okHandler(), ExtractCredentials(jwts), RequireUser(testRoutes))

	// 1. Unsecured path passes with no credential at all.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/check", nil))
	if rr.Code != 200 {
		t.Errorf("Unsecured path should pass, got %d", rr.Code)
	}

	// 2. Secured path without a token.
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/dashboard/keys", nil))
	if rr.Code != 401 {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
	if msg := errorBody(t, rr); msg != "no authorization token provided" {
		t.Errorf("Unexpected message: %q", msg)
	}

	// 3. Secured path with a garbage token.
	req := httptest.NewRequest("GET", "/api/dashboard/keys", nil)
	req.Header.Set("Authorization", "Bearer junk")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 401 {
		t.Fatalf("Expected 401, got %d", rr.Code)
	}
	if msg := errorBody(t, rr); msg != "invalid token" {
		t.Errorf("Unexpected message: %q", msg)
	}

	// 4. Secured path with a valid token.
	req = httptest.NewRequest("GET", "/api/dashboard/keys", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Errorf("Valid token should pass, got %d", rr.Code)
	}
}

type mockVerifier struct {
	err   error
	calls int
}

func (m *mockVerifier) Verify(ctx context.Context, claims *auth.KeyClaims) error {
	m.calls++
	return m.err
}

func TestRequireAPIKey(t *testing.T) {
	jwts := auth.NewJWTManager("secret", time.Hour)
	claims := auth.KeyClaims{UserID: uuid.New(), PlanID: "pro", KeyID: uuid.New(), Secret: "s"}

	t.Run("non-metered path passes", func(t *testing.T) {
		v := &mockVerifier{}
		h := Chain(okHandler(), ExtractCredentials(jwts), RequireAPIKey(v, testRoutes))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))
		if rr.Code != 200 || v.calls != 0 {
			t.Errorf("Expected pass-through without verification, got %d / %d calls", rr.Code, v.calls)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		h := Chain(okHandler(), ExtractCredentials(jwts), RequireAPIKey(&mockVerifier{}, testRoutes))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/check", nil))
		if rr.Code != 401 {
			t.Fatalf("Expected 401, got %d", rr.Code)
		}
		if msg := errorBody(t, rr); msg != "no API key provided" {
			t.Errorf("Unexpected message: %q", msg)
		}
	})

	t.Run("malformed envelope", func(t *testing.T) {
		v := &mockVerifier{}
		h := Chain(okHandler(), ExtractCredentials(jwts), RequireAPIKey(v, testRoutes))
		req := httptest.NewRequest("POST", "/api/v1/check", nil)
		req.Header.Set("X-API-Key", "sk_not-base64")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 401 || v.calls != 0 {
			t.Errorf("Malformed envelope should fail before verification: %d / %d calls", rr.Code, v.calls)
		}
	})

	t.Run("failed verification", func(t *testing.T) {
		h := Chain(okHandler(), ExtractCredentials(jwts), RequireAPIKey(&mockVerifier{err: auth.ErrInvalidKey}, testRoutes))
		req := httptest.NewRequest("POST", "/api/v1/check", nil)
		req.Header.Set("X-API-Key", claims.Encode())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 401 {
			t.Fatalf("Expected 401, got %d", rr.Code)
		}
		if msg := errorBody(t, rr); msg != "invalid key" {
			t.Errorf("Unexpected message: %q", msg)
		}
	})

	t.Run("verified key passes", func(t *testing.T) {
		h := Chain(okHandler(), ExtractCredentials(jwts), RequireAPIKey(&mockVerifier{}, testRoutes))
		req := httptest.NewRequest("POST", "/api/v1/check", nil)
		req.Header.Set("X-API-Key", claims.Encode())
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != 200 {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})
}

type mockEnforcer struct {
	err error
}

func (m *mockEnforcer) Allow(ctx context.Context, claims *auth.KeyClaims) error { return m.err }

func TestEnforceQuota(t *testing.T) {
	jwts := auth.NewJWTManager("secret", time.Hour)
	claims := auth.KeyClaims{UserID: uuid.New(), PlanID: "pro", KeyID: uuid.New(), Secret: "s"}

	meteredReq := func() *http.Request {
		req := httptest.NewRequest("POST", "/api/v1/check", nil)
		req.Header.Set("X-API-Key", claims.Encode())
		return req
	}

	t.Run("allowed", func(t *testing.T) {
		h := Chain(okHandler(), ExtractCredentials(jwts),
			EnforceQuota(&mockEnforcer{}, testRoutes, reliability.FailClosed, discardLogger()))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, meteredReq())
		if rr.Code != 200 {
			t.Errorf("Expected 200, got %d", rr.Code)
		}
	})

	t.Run("limit exceeded", func(t *testing.T) {
		limitErr := &quota.LimitError{Scope: "daily", UserID: claims.UserID.String(), Count: 101, Limit: 100}
		h := Chain(okHandler(), ExtractCredentials(jwts),
			EnforceQuota(&mockEnforcer{err: limitErr}, testRoutes, reliability.FailClosed, discardLogger()))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, meteredReq())
		if rr.Code != 429 {
			t.Fatalf("Expected 429, got %d", rr.Code)
		}
		if msg := errorBody(t, rr); msg != limitErr.Error() {
			t.Errorf("429 body should carry count and limit, got %q", msg)
		}
	})

	t.Run("store failure fail-closed", func(t *testing.T) {
		storeErr := &quota.StoreError{Op: "daily increment", Err: errors.New("connection refused")}
		h := Chain(okHandler(), ExtractCredentials(jwts),
			EnforceQuota(&mockEnforcer{err: storeErr}, testRoutes, reliability.FailClosed, discardLogger()))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, meteredReq())
		if rr.Code != 500 {
			t.Fatalf("Expected 500, got %d", rr.Code)
		}
		// Redacted message, detail stays server-side.
		if msg := errorBody(t, rr); msg != "internal server error" {
			t.Errorf("Expected redacted message, got %q", msg)
		}
	})

	t.Run("store failure fail-open", func(t *testing.T) {
		storeErr := &quota.StoreError{Op: "daily increment", Err: errors.New("connection refused")}
		h := Chain(okHandler(), ExtractCredentials(jwts),
			EnforceQuota(&mockEnforcer{err: storeErr}, testRoutes, reliability.FailOpen, discardLogger()))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, meteredReq())
		if rr.Code != 200 {
			t.Errorf("Fail-open should admit the request, got %d", rr.Code)
		}
	})

	t.Run("no key claims passes un-metered", func(t *testing.T) {
		h := Chain(okHandler(), ExtractCredentials(jwts),
			EnforceQuota(&mockEnforcer{err: errors.New("should not be called")}, testRoutes, reliability.FailClosed, discardLogger()))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/check", nil))
		if rr.Code != 200 {
			t.Errorf("Expected un-metered pass-through, got %d", rr.Code)
		}
	})
}

func TestGlobalRateLimit(t *testing.T) {
	g := limiter.NewGlobal(5, 0)
	h := GlobalRateLimit(g)(okHandler())

	allowed, rejected := 0, 0
	for i := 0; i < 10; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/check", nil))
		switch rr.Code {
		case 200:
			allowed++
		case 429:
			rejected++
			if msg := errorBody(t, rr); msg == "" {
				t.Error("429 should carry an error message")
			}
		default:
			t.Fatalf("Unexpected status %d", rr.Code)
		}
	}
	if allowed < 5 || rejected < 3 {
		t.Errorf("Expected roughly 5 admissions and 5 rejections, got %d / %d", allowed, rejected)
	}
}

func TestChainOrdering(t *testing.T) {
	var order []string
	stage := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}), stage("a"), stage("b"), stage("c"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	want := []string{"a", "b", "c", "handler"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, order)
		}
	}
}

func TestChainShortCircuit(t *testing.T) {
	handlerRan := false
	reject := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.Unauthorized(w, "stop here")
		})
	}
	afterRan := false
	after := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			afterRan = true
			next.ServeHTTP(w, r)
		})
	}

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerRan = true
	}), Middleware(reject), Middleware(after))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if rr.Code != 401 {
		t.Errorf("Expected the rejecting stage's status, got %d", rr.Code)
	}
	if afterRan || handlerRan {
		t.Error("No stage after a rejection may run")
	}
	if msg := errorBody(t, rr); msg != "stop here" {
		t.Errorf("Rejection body should be returned verbatim, got %q", msg)
	}
}

func TestPipeline(t *testing.T) {
	p := NewPipeline(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Stage", "outer")
			next.ServeHTTP(w, r)
		})
	})
	p.Append(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		})
	})

	rr := httptest.NewRecorder()
	p.Then(okHandler()).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != 200 || rr.Header().Get("X-Stage") != "outer" {
		t.Errorf("Pipeline did not wrap stages: %d %q", rr.Code, rr.Header().Get("X-Stage"))
	}
}
