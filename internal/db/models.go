package db

import (
	"time"

	"github.com/google/uuid"
)

// Key statuses.
const (
	KeyStatusActive  = "active"
	KeyStatusRevoked = "revoked"
)

// APIKey is the stored side of an issued key. The claimed secret inside
// a key envelope is only trusted after it matches SecretHash and Status
// is active.
type APIKey struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	PlanID     string    `json:"plan_id" db:"plan_id"`
	Name       string    `json:"name" db:"name"`
	SecretHash string    `json:"-" db:"secret_hash"` // bcrypt hash of the key secret
	Status     string    `json:"status" db:"status"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

func (k *APIKey) Active() bool {
	return k.Status == KeyStatusActive
}
