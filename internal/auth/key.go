package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefix marks every issued API key.
const KeyPrefix = "sk_"

// KeyClaims is the self-describing payload of an API key. The envelope
// is "sk_" + base64(JSON). Decoding only yields *claimed* identity; the
// secret must be checked against the stored hash before any claim is
// trusted.
type KeyClaims struct {
	UserID uuid.UUID `json:"user_id"`
	PlanID string    `json:"plan_id"`
	KeyID  uuid.UUID `json:"key_id"`
	Secret string    `json:"secret"`
}

// Encode serializes the claims into the key envelope handed to the user.
func (c KeyClaims) Encode() string {
	payload, _ := json.Marshal(c)
	return KeyPrefix + base64.StdEncoding.EncodeToString(payload)
}

// DecodeKey parses an API key envelope back into claimed key claims.
func DecodeKey(key string) (*KeyClaims, error) {
	encoded, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return nil, fmt.Errorf("missing %q prefix: %w", KeyPrefix, ErrInvalidKey)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", ErrInvalidKey)
	}

	var claims KeyClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("payload parse: %w", ErrInvalidKey)
	}

	return &claims, nil
}

// NewSecret returns a fresh random key secret (256 bits, URL-safe).
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}

// HashSecret hashes a key secret for storage.
func HashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(hashed), err
}

// CheckSecret reports whether the secret matches a stored hash.
func CheckSecret(secret, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(secret)) == nil
}
