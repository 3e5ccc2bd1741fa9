package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quotaplane/quotaplane/internal/audit"
	"github.com/quotaplane/quotaplane/internal/httpx"
)

// CaptureAudit records every completed request, bodies included, without
// changing the bytes seen by the handler or the client. The request body
// is drained and replayed before the handler runs; the response is
// buffered in full and flushed to the client after it returns. Whole
// bodies are held in memory for the duration of the request, which
// trades streaming for capture fidelity.
func CaptureAudit(recorder audit.Recorder, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Install the credential holder before the inner stages run.
			// When this stage sits outside extraction, the resolution
			// still lands in this holder, so records keep their
			// user/key attribution.
			r, _ = ensureCredentials(r)

			reqBody, err := drainRequestBody(r)
			if err != nil {
				logger.Error("failed to read request body", "error", err)
				httpx.Error(w, http.StatusBadRequest, "failed to read request body")
				return
			}

			bw := &bufferedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(bw, r)
			bw.flush()

			// An aborted request gets no record at all rather than a
			// partial one.
			if r.Context().Err() != nil {
				return
			}

			var userID, keyID *uuid.UUID
			if claims, err := UserClaimsFrom(r.Context()); err == nil && claims != nil {
				userID = &claims.UserID
			}
			if claims, err := KeyClaimsFrom(r.Context()); err == nil && claims != nil {
				keyID = &claims.KeyID
				if userID == nil {
					userID = &claims.UserID
				}
			}

			rec := audit.Record{
				ID:           uuid.New(),
				Timestamp:    start,
				Method:       r.Method,
				Path:         r.URL.Path,
				StatusCode:   bw.statusCode,
				UserID:       userID,
				KeyID:        keyID,
				Params:       queryParams(r),
				RequestBody:  bestEffortJSON(reqBody),
				ResponseBody: bestEffortJSON(bw.body.Bytes()),
				ClientIP:     clientIP(r),
				UserAgent:    r.UserAgent(),
			}

			// Recording happens after the response is already flushed; a
			// sink failure never reaches the client.
			if err := recorder.Record(context.WithoutCancel(r.Context()), rec); err != nil {
				logger.Error("failed to persist audit record", "record_id", rec.ID, "error", err)
			}
		})
	}
}

// drainRequestBody buffers the body and replaces it with an equivalent
// single-shot reader so the handler observes the same bytes.
func drainRequestBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// bestEffortJSON keeps valid JSON bytes as-is and records null for
// empty or non-JSON bodies rather than failing the request.
func bestEffortJSON(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return json.RawMessage("null")
	}
	return json.RawMessage(bytes.Clone(body))
}

func queryParams(r *http.Request) json.RawMessage {
	values := r.URL.Query()
	if len(values) == 0 {
		return json.RawMessage("{}")
	}

	params := make(map[string]interface{}, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			params[k] = vs[0]
		} else {
			params[k] = vs
		}
	}
	audit.RedactParams(params)

	raw, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// bufferedResponseWriter holds status and body until flush so the record
// reflects exactly what is sent to the client.
type bufferedResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (bw *bufferedResponseWriter) WriteHeader(code int) {
	if bw.wroteHeader {
		return
	}
	bw.statusCode = code
	bw.wroteHeader = true
}

func (bw *bufferedResponseWriter) Write(b []byte) (int, error) {
	if !bw.wroteHeader {
		bw.WriteHeader(http.StatusOK)
	}
	return bw.body.Write(b)
}

func (bw *bufferedResponseWriter) flush() {
	// Headers set by the handler live on the underlying writer's map
	// and go out with this WriteHeader call.
	bw.ResponseWriter.WriteHeader(bw.statusCode)
	bw.ResponseWriter.Write(bw.body.Bytes())
}
