// Command keygen mints an API key envelope offline, printing the
// envelope to hand to the caller and the storable record (bcrypt hash,
// no secret) to load into the key store.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/auth"
	"github.com/quotaplane/quotaplane/internal/db"
)

func main() {
	userFlag := flag.String("user", "", "user UUID the key belongs to (default: generate one)")
	planFlag := flag.String("plan", "free", "plan id baked into the envelope")
	nameFlag := flag.String("name", "default", "display name for the key")
	flag.Parse()

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			fatalf("invalid -user: %v", err)
		}
		userID = parsed
	}

	secret, err := auth.NewSecret()
	if err != nil {
		fatalf("generating secret: %v", err)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		fatalf("hashing secret: %v", err)
	}

	claims := auth.KeyClaims{
		UserID: userID,
		PlanID: *planFlag,
		KeyID:  uuid.New(),
		Secret: secret,
	}

	record := db.APIKey{
		ID:         claims.KeyID,
		UserID:     userID,
		PlanID:     *planFlag,
		Name:       *nameFlag,
		SecretHash: hash,
		Status:     db.KeyStatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	fmt.Printf("API key (share with the caller, not recoverable):\n  %s\n\n", claims.Encode())

	// SecretHash is json:"-" on the model; emit it explicitly.
	stored, err := json.MarshalIndent(struct {
		db.APIKey
		SecretHash string `json:"secret_hash"`
	}{record, hash}, "", "  ")
	if err != nil {
		fatalf("encoding record: %v", err)
	}
	fmt.Printf("Key record to store:\n%s\n", stored)
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
