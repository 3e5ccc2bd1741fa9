package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/cache"
	"github.com/quotaplane/quotaplane/internal/db"
	"github.com/quotaplane/quotaplane/internal/repository"
)

// verifyCacheTTL bounds how long a verified (key, secret) pair skips the
// bcrypt check. Revocation takes effect within this window at worst; the
// Revoke path also evicts eagerly.
const verifyCacheTTL = time.Minute

// KeyService owns the API-key lifecycle: issuing envelopes, verifying
// claimed secrets against stored hashes, and revocation.
type KeyService struct {
	repo  repository.KeyRepository
	cache *cache.MemoryCache
}

func NewKeyService(repo repository.KeyRepository, c *cache.MemoryCache) *KeyService {
	return &KeyService{
		repo:  repo,
		cache: c,
	}
}

// Issue creates a key for the user under a plan and returns the envelope
// to show the user once. Only the secret's hash is stored.
func (s *KeyService) Issue(ctx context.Context, userID uuid.UUID, planID, name string) (string, *db.APIKey, error) {
	secret, err := auth.NewSecret()
	if err != nil {
		return "", nil, fmt.Errorf("generate secret: %w", err)
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return "", nil, fmt.Errorf("hash secret: %w", err)
	}

	key := &db.APIKey{
		ID:         uuid.New(),
		UserID:     userID,
		PlanID:     planID,
		Name:       name,
		SecretHash: hash,
		Status:     db.KeyStatusActive,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Create(ctx, key); err != nil {
		return "", nil, err
	}

	claims := auth.KeyClaims{
		UserID: userID,
		PlanID: planID,
		KeyID:  key.ID,
		Secret: secret,
	}
	return claims.Encode(), key, nil
}

// Verify confirms that decoded key claims are backed by a stored, active
// key whose hash matches the claimed secret. A syntactically valid
// envelope is worthless until this passes.
func (s *KeyService) Verify(ctx context.Context, claims *auth.KeyClaims) error {
	cacheKey := claims.KeyID.String()

	// L1 cache: skip the bcrypt compare when the exact same claims were
	// verified recently. Any field differing falls through to the full
	// check.
	if cached, found := s.cache.Get(cacheKey); found {
		if verified, ok := cached.(auth.KeyClaims); ok && verified == *claims {
			return nil
		}
	}

	key, err := s.repo.GetByID(ctx, claims.KeyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return auth.ErrInvalidKey
		}
		return err
	}

	if !key.Active() {
		return auth.ErrInvalidKey
	}
	if key.UserID != claims.UserID {
		return auth.ErrInvalidKey
	}
	// The quota stage trusts the claimed plan after this passes, so a
	// plan swap in the envelope is as invalid as a wrong secret.
	if key.PlanID != claims.PlanID {
		return auth.ErrInvalidKey
	}
	if !auth.CheckSecret(claims.Secret, key.SecretHash) {
		return auth.ErrInvalidKey
	}

	s.cache.Set(cacheKey, *claims, verifyCacheTTL)
	return nil
}

// Revoke deactivates a key and evicts any cached verification so the
// revocation takes effect immediately in this process.
func (s *KeyService) Revoke(ctx context.Context, keyID uuid.UUID) error {
	if err := s.repo.Revoke(ctx, keyID); err != nil {
		return err
	}
	s.cache.Delete(keyID.String())
	return nil
}

// Rotate revokes every key the user holds and issues a fresh one.
func (s *KeyService) Rotate(ctx context.Context, userID uuid.UUID, planID string) (string, *db.APIKey, error) {
	if err := s.repo.RevokeAllForUser(ctx, userID); err != nil {
		return "", nil, err
	}
	return s.Issue(ctx, userID, planID, "rotated-key")
}

// List returns the user's keys, hashes omitted by the model's JSON tags.
func (s *KeyService) List(ctx context.Context, userID uuid.UUID) ([]*db.APIKey, error) {
	return s.repo.ListByUser(ctx, userID)
}
