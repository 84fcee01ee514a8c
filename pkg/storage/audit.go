package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditLog is a single immutable audit trail entry: one denial, grant,
// tool call, or search execution, always hashed/redacted before it
// reaches this layer by the caller.
type AuditLog struct {
	ID        string
	SessionID string
	EventType EventType
	Summary   string
	Payload   map[string]any
	CreatedAt time.Time
}

// RecordAuditLog inserts an immutable audit entry and notifies observers.
// Audit rows are never updated or deleted by this package; retention is
// an operator concern outside the store.
func (s *Store) RecordAuditLog(a AuditLog) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if a.Payload == nil {
		a.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	var sessionID any
	if a.SessionID != "" {
		sessionID = a.SessionID
	}

	_, err = s.db.Exec(`
		INSERT INTO audit_logs (id, session_id, event_type, summary, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, sessionID, string(a.EventType), a.Summary, string(payloadJSON), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	s.notify(newEvent(a.EventType, a.SessionID, a.ID, map[string]any{"summary": a.Summary}))
	return nil
}

func scanAuditLog(row interface{ Scan(...any) error }) (*AuditLog, error) {
	var a AuditLog
	var sessionID sql.NullString
	var eventType string
	var payloadJSON string
	if err := row.Scan(&a.ID, &sessionID, &eventType, &a.Summary, &payloadJSON, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.SessionID = sessionID.String
	a.EventType = EventType(eventType)
	if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
		return nil, fmt.Errorf("decode audit payload: %w", err)
	}
	return &a, nil
}

// ListAuditLogsBySession returns a session's audit trail, newest first,
// capped at limit rows (0 means unbounded).
func (s *Store) ListAuditLogsBySession(sessionID string, limit int) ([]AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	query := `
		SELECT id, session_id, event_type, summary, payload, created_at
		FROM audit_logs
		WHERE session_id = ?
		ORDER BY created_at DESC
	`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListAuditLogsByType returns the most recent audit entries of a given
// event type across all sessions, capped at limit rows (0 means unbounded).
func (s *Store) ListAuditLogsByType(eventType EventType, limit int) ([]AuditLog, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	query := `
		SELECT id, session_id, event_type, summary, payload, created_at
		FROM audit_logs
		WHERE event_type = ?
		ORDER BY created_at DESC
	`
	args := []any{string(eventType)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs by type: %w", err)
	}
	defer rows.Close()

	var out []AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
