package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/audit"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	userID := uuid.New()
	keyID := uuid.New()
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		rec := audit.Record{
			ID:           uuid.New(),
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			Method:       "POST",
			Path:         "/api/v1/check",
			StatusCode:   200,
			UserID:       &userID,
			KeyID:        &keyID,
			Params:       json.RawMessage(`{"page":"1"}`),
			RequestBody:  json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
			ResponseBody: json.RawMessage(`{"status":"ok"}`),
			ClientIP:     "10.0.0.1",
			UserAgent:    "test-agent",
		}
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	records, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}

	// Newest first.
	if !records[0].Timestamp.After(records[2].Timestamp) {
		t.Errorf("Expected newest-first ordering: %v vs %v", records[0].Timestamp, records[2].Timestamp)
	}

	got := records[0]
	if got.Method != "POST" || got.Path != "/api/v1/check" || got.StatusCode != 200 {
		t.Errorf("Unexpected record: %+v", got)
	}
	if got.UserID == nil || *got.UserID != userID {
		t.Errorf("Expected user %s, got %v", userID, got.UserID)
	}
	if got.KeyID == nil || *got.KeyID != keyID {
		t.Errorf("Expected key %s, got %v", keyID, got.KeyID)
	}
	if string(got.ResponseBody) != `{"status":"ok"}` {
		t.Errorf("Unexpected response body: %s", got.ResponseBody)
	}
	if got.ClientIP != "10.0.0.1" || got.UserAgent != "test-agent" {
		t.Errorf("Unexpected client fields: %+v", got)
	}
}

func TestStore_NullColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := audit.Record{
		ID:         uuid.New(),
		Timestamp:  time.Now().UTC(),
		Method:     "GET",
		Path:       "/api/v1/check",
		StatusCode: 401,
		ClientIP:   "10.0.0.2",
		UserAgent:  "anon",
	}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	records, err := s.List(ctx, 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}

	got := records[0]
	if got.UserID != nil || got.KeyID != nil {
		t.Errorf("Expected nil identities for anonymous record, got %+v", got)
	}
	if string(got.RequestBody) != "null" {
		t.Errorf("Expected null request body, got %s", got.RequestBody)
	}
}

func TestStore_ListLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := audit.Record{
			ID:         uuid.New(),
			Timestamp:  time.Now().UTC().Add(time.Duration(i) * time.Second),
			Method:     "GET",
			Path:       "/api/v1/check",
			StatusCode: 200,
			ClientIP:   "10.0.0.1",
			UserAgent:  "t",
		}
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	records, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}
}
