package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/db"
)

var ErrNotFound = errors.New("record not found")

// KeyRepository is the key-storage collaborator: given a key ID it
// returns the stored secret hash and active/revoked status for secondary
// verification.
type KeyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.APIKey, error)
	Create(ctx context.Context, key *db.APIKey) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*db.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}
