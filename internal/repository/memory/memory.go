package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/db"
	"github.com/quotaplane/quotaplane/internal/repository"
)

// MemoryRepository is a mutex-guarded in-process key store, used for
// tests and single-instance deployments.
type MemoryRepository struct {
	keys map[uuid.UUID]*db.APIKey
	mu   sync.RWMutex
}

func New() *MemoryRepository {
	return &MemoryRepository{
		keys: make(map[uuid.UUID]*db.APIKey),
	}
}

var _ repository.KeyRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.keys[id]; ok {
		copied := *k
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (r *MemoryRepository) Create(ctx context.Context, key *db.APIKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *key
	r.keys[key.ID] = &copied
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*db.APIKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var list []*db.APIKey
	for _, k := range r.keys {
		if k.UserID == userID {
			copied := *k
			list = append(list, &copied)
		}
	}
	return list, nil
}

func (r *MemoryRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.keys[id]
	if !ok {
		return repository.ErrNotFound
	}
	k.Status = db.KeyStatusRevoked
	return nil
}

func (r *MemoryRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.UserID == userID {
			k.Status = db.KeyStatusRevoked
		}
	}
	return nil
}
