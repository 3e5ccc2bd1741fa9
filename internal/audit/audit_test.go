package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJSONRecorder(t *testing.T) {
	var buf bytes.Buffer
	r := NewJSONRecorder(&buf)

	userID := uuid.New()
	rec := Record{
		ID:          uuid.New(),
		Timestamp:   time.Now().UTC(),
		Method:      "POST",
		Path:        "/api/v1/check",
		StatusCode:  200,
		UserID:      &userID,
		Params:      json.RawMessage(`{}`),
		RequestBody: json.RawMessage(`{"q":1}`),
		ClientIP:    "10.0.0.1",
		UserAgent:   "test",
	}
	if err := r.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	line := buf.String()
	if !strings.HasSuffix(line, "\n") {
		t.Error("Expected newline-terminated record")
	}

	var decoded Record
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("Record line is not valid JSON: %v", err)
	}
	if decoded.ID != rec.ID || decoded.Path != rec.Path || decoded.StatusCode != 200 {
		t.Errorf("Round trip mismatch: %+v", decoded)
	}
	if decoded.UserID == nil || *decoded.UserID != userID {
		t.Errorf("Expected user %s, got %v", userID, decoded.UserID)
	}
}

func TestRedactParams(t *testing.T) {
	params := map[string]interface{}{
		"api_key":      "sk_live",
		"my_token":     "abc",
		"PASSWORD":     "hunter2",
		"clientSecret": "shh",
		"page":         "2",
	}
	RedactParams(params)

	for _, k := range []string{"api_key", "my_token", "PASSWORD", "clientSecret"} {
		if params[k] != "***REDACTED***" {
			t.Errorf("%s should be redacted, got %v", k, params[k])
		}
	}
	if params["page"] != "2" {
		t.Errorf("page should be untouched, got %v", params["page"])
	}
}
