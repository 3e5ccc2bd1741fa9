// Package audit defines the append-only trail of every completed
// request, including the request and response bodies as the handler and
// client saw them.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is created exactly once per completed request and never
// mutated afterwards. Body fields hold the captured JSON, or null for
// empty/non-JSON bodies.
type Record struct {
	ID           uuid.UUID       `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	StatusCode   int             `json:"status_code"`
	UserID       *uuid.UUID      `json:"user_id,omitempty"`
	KeyID        *uuid.UUID      `json:"key_id,omitempty"`
	Params       json.RawMessage `json:"params"`
	RequestBody  json.RawMessage `json:"request_body"`
	ResponseBody json.RawMessage `json:"response_body"`
	ClientIP     string          `json:"client_ip"`
	UserAgent    string          `json:"user_agent"`
}

// Recorder persists audit records. A failing Recorder must never fail
// the client-visible request; callers log and move on.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// JSONRecorder writes one record per line to an io.Writer.
type JSONRecorder struct {
	mu  sync.Mutex
	out io.Writer
}

func NewJSONRecorder(w io.Writer) *JSONRecorder {
	return &JSONRecorder{out: w}
}

func (r *JSONRecorder) Record(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(line); err != nil {
		return err
	}
	_, err = r.out.Write([]byte("\n"))
	return err
}

var sensitiveParams = []string{"api_key", "password", "token", "secret"}

// RedactParams masks values of query parameters whose names look
// credential-bearing before they enter the trail.
func RedactParams(params map[string]interface{}) {
	for k := range params {
		lower := strings.ToLower(k)
		for _, s := range sensitiveParams {
			if strings.Contains(lower, s) {
				params[k] = "***REDACTED***"
				break
			}
		}
	}
}
