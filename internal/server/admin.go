package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/db"
	"github.com/quotaplane/quotaplane/internal/httpx"
	"github.com/quotaplane/quotaplane/internal/middleware"
)

type issueKeyRequest struct {
	PlanID string `json:"plan_id"`
	Name   string `json:"name"`
}

type keyResponse struct {
	// Key is the full envelope, returned once at creation time.
	Key       string    `json:"key,omitempty"`
	ID        uuid.UUID `json:"id"`
	PlanID    string    `json:"plan_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toKeyResponse(envelope string, rec *db.APIKey) keyResponse {
	return keyResponse{
		Key:       envelope,
		ID:        rec.ID,
		PlanID:    rec.PlanID,
		Name:      rec.Name,
		Status:    rec.Status,
		CreatedAt: rec.CreatedAt,
	}
}

// IssueKeyHandler mints a new API key for the authenticated user. The
// secret inside the returned envelope is not recoverable later.
func (s *Server) IssueKeyHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.UserClaimsFrom(r.Context())
	if err != nil {
		httpx.Unauthorized(w, "no authorization token provided")
		return
	}

	var req issueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.plans.Get(req.PlanID); !ok {
		httpx.Error(w, http.StatusBadRequest, "unknown plan")
		return
	}
	if req.Name == "" {
		req.Name = "default"
	}

	envelope, rec, err := s.keys.Issue(r.Context(), claims.UserID, req.PlanID, req.Name)
	if err != nil {
		s.logger.Error("issuing api key", "user_id", claims.UserID, "error", err)
		httpx.Internal(w)
		return
	}

	httpx.JSON(w, http.StatusCreated, toKeyResponse(envelope, rec))
}

func (s *Server) ListKeysHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.UserClaimsFrom(r.Context())
	if err != nil {
		httpx.Unauthorized(w, "no authorization token provided")
		return
	}

	records, err := s.keys.List(r.Context(), claims.UserID)
	if err != nil {
		s.logger.Error("listing api keys", "user_id", claims.UserID, "error", err)
		httpx.Internal(w)
		return
	}

	out := make([]keyResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toKeyResponse("", rec))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (s *Server) RevokeKeyHandler(w http.ResponseWriter, r *http.Request) {
	keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid key id")
		return
	}

	if err := s.keys.Revoke(r.Context(), keyID); err != nil {
		httpx.Error(w, http.StatusNotFound, "key not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type rotateKeyRequest struct {
	PlanID string `json:"plan_id"`
}

// RotateKeyHandler revokes every key the user holds and issues a fresh
// one on the requested plan.
func (s *Server) RotateKeyHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := middleware.UserClaimsFrom(r.Context())
	if err != nil {
		httpx.Unauthorized(w, "no authorization token provided")
		return
	}

	var req rotateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, ok := s.plans.Get(req.PlanID); !ok {
		httpx.Error(w, http.StatusBadRequest, "unknown plan")
		return
	}

	envelope, rec, err := s.keys.Rotate(r.Context(), claims.UserID, req.PlanID)
	if err != nil {
		s.logger.Error("rotating api keys", "user_id", claims.UserID, "error", err)
		httpx.Internal(w)
		return
	}

	httpx.JSON(w, http.StatusCreated, toKeyResponse(envelope, rec))
}

// ListAuditHandler is registered only when the SQLite sink is active.
func (s *Server) ListAuditHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			httpx.Error(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	records, err := s.auditStore.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing audit records", "error", err)
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

type devTokenRequest struct {
	UserID            string `json:"user_id"`
	BillingCustomerID string `json:"billing_customer_id"`
}

// DevTokenHandler mints a session token without an identity provider.
// Never registered in production.
func (s *Server) DevTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req devTokenRequest
	if r.Body != nil {
		// An empty body means a throwaway user.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	userID := uuid.New()
	if req.UserID != "" {
		parsed, err := uuid.Parse(req.UserID)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid user id")
			return
		}
		userID = parsed
	}

	token, err := s.jwts.Generate(userID, req.BillingCustomerID)
	if err != nil {
		s.logger.Error("generating dev token", "error", err)
		httpx.Internal(w)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{
		"token":   token,
		"user_id": userID.String(),
	})
}
