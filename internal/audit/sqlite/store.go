// Package sqlite persists audit records to a local SQLite database.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/quotaplane/quotaplane/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id TEXT PRIMARY KEY,
	timestamp TIMESTAMP NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	user_id TEXT,
	key_id TEXT,
	params TEXT,
	request_body TEXT,
	response_body TEXT,
	client_ip TEXT NOT NULL,
	user_agent TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_records_timestamp ON audit_records(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_records_user_id ON audit_records(user_id);
`

// Store implements audit.Recorder on SQLite.
type Store struct {
	db *sqlx.DB
}

var _ audit.Recorder = (*Store)(nil)

func New(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize audit schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, rec audit.Record) error {
	var userID, keyID *string
	if rec.UserID != nil {
		v := rec.UserID.String()
		userID = &v
	}
	if rec.KeyID != nil {
		v := rec.KeyID.String()
		keyID = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records
			(id, timestamp, method, path, status_code, user_id, key_id, params, request_body, response_body, client_ip, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Timestamp, rec.Method, rec.Path, rec.StatusCode,
		userID, keyID,
		nullableJSON(rec.Params), nullableJSON(rec.RequestBody), nullableJSON(rec.ResponseBody),
		rec.ClientIP, rec.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]audit.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, timestamp, method, path, status_code, user_id, key_id, params, request_body, response_body, client_ip, user_agent
		FROM audit_records ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var records []audit.Record
	for rows.Next() {
		var row struct {
			ID           string  `db:"id"`
			Timestamp    string  `db:"timestamp"`
			Method       string  `db:"method"`
			Path         string  `db:"path"`
			StatusCode   int     `db:"status_code"`
			UserID       *string `db:"user_id"`
			KeyID        *string `db:"key_id"`
			Params       *string `db:"params"`
			RequestBody  *string `db:"request_body"`
			ResponseBody *string `db:"response_body"`
			ClientIP     string  `db:"client_ip"`
			UserAgent    string  `db:"user_agent"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}

		rec := audit.Record{
			Method:       row.Method,
			Path:         row.Path,
			StatusCode:   row.StatusCode,
			ClientIP:     row.ClientIP,
			UserAgent:    row.UserAgent,
			Params:       jsonColumn(row.Params),
			RequestBody:  jsonColumn(row.RequestBody),
			ResponseBody: jsonColumn(row.ResponseBody),
		}
		rec.ID, _ = uuid.Parse(row.ID)
		rec.Timestamp, _ = parseTimestamp(row.Timestamp)
		if row.UserID != nil {
			if id, err := uuid.Parse(*row.UserID); err == nil {
				rec.UserID = &id
			}
		}
		if row.KeyID != nil {
			if id, err := uuid.Parse(*row.KeyID); err == nil {
				rec.KeyID = &id
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	time.RFC3339,
}

func parseTimestamp(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func nullableJSON(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	v := string(raw)
	return &v
}

func jsonColumn(v *string) []byte {
	if v == nil {
		return []byte("null")
	}
	return []byte(*v)
}
