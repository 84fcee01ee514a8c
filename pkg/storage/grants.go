package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Grant is the persisted form of a permission broker decision.
type Grant struct {
	ID           string
	Permission   string
	Scope        string // once | session | always
	SessionID    string // empty for an always grant
	AllowedPaths []string
	CreatedAt    time.Time
}

func scanGrant(row interface{ Scan(...any) error }) (*Grant, error) {
	var g Grant
	var sessionID sql.NullString
	var pathsJSON string
	if err := row.Scan(&g.ID, &g.Permission, &g.Scope, &sessionID, &pathsJSON, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.SessionID = sessionID.String
	if err := json.Unmarshal([]byte(pathsJSON), &g.AllowedPaths); err != nil {
		return nil, fmt.Errorf("decode allowed_paths: %w", err)
	}
	return &g, nil
}

// UpsertGrant replaces any existing grant for the same (permission,
// session-or-null) pair, per the broker's grant() semantics.
func (s *Store) UpsertGrant(g Grant) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	pathsJSON, err := json.Marshal(g.AllowedPaths)
	if err != nil {
		return fmt.Errorf("encode allowed_paths: %w", err)
	}

	var sessionID any
	if g.Scope != "always" && g.SessionID != "" {
		sessionID = g.SessionID
	}

	_, err = s.db.Exec(`
		INSERT INTO grants (id, permission, scope, session_id, allowed_paths, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(permission, COALESCE(session_id, '')) DO UPDATE SET
			id = excluded.id,
			scope = excluded.scope,
			allowed_paths = excluded.allowed_paths,
			created_at = excluded.created_at
	`, g.ID, g.Permission, g.Scope, sessionID, string(pathsJSON), g.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	s.notify(newEvent(EventPermissionGrant, g.SessionID, g.ID, map[string]any{
		"permission": g.Permission,
		"scope":      g.Scope,
	}))
	return nil
}

// SelectBestGrantForUpdate returns the grant that best matches (permission,
// sessionID) under a row lock held by tx: the session-scoped row if one
// exists, otherwise the null-session (always) row. Callers must run this
// inside a transaction and either delete the row (once-consumption) or
// commit without modification, per SPEC_FULL.md's atomicity requirement.
func SelectBestGrantForUpdate(tx *sql.Tx, permission, sessionID string) (*Grant, error) {
	if sessionID != "" {
		row := tx.QueryRow(`
			SELECT id, permission, scope, session_id, allowed_paths, created_at
			FROM grants
			WHERE permission = ? AND session_id = ?
		`, permission, sessionID)
		g, err := scanGrant(row)
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	row := tx.QueryRow(`
		SELECT id, permission, scope, session_id, allowed_paths, created_at
		FROM grants
		WHERE permission = ? AND session_id IS NULL
	`, permission)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteGrantTx deletes a single grant row inside an open transaction, used
// to consume a `once` grant atomically with the decision that approved it.
func DeleteGrantTx(tx *sql.Tx, id string) error {
	_, err := tx.Exec(`DELETE FROM grants WHERE id = ?`, id)
	return err
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RevokeGrants deletes grants for (permission, this session OR null
// session), matching the broker's revoke() semantics.
func (s *Store) RevokeGrants(permission, sessionID string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		DELETE FROM grants WHERE permission = ? AND (session_id = ? OR session_id IS NULL)
	`, permission, sessionID)
	if err != nil {
		return fmt.Errorf("revoke grants: %w", err)
	}
	s.notify(newEvent(EventPermissionRevoke, sessionID, "", map[string]any{"permission": permission}))
	return nil
}

// CountGrants returns the number of grant rows currently persisted,
// regardless of session. Used to feed the ambient grants_active_total gauge.
func (s *Store) CountGrants() (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreClosed
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM grants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return n, nil
}

// ListGrants returns grants visible to sessionID: its own rows plus every
// null-session (always) row.
func (s *Store) ListGrants(sessionID string) ([]Grant, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, permission, scope, session_id, allowed_paths, created_at
		FROM grants
		WHERE session_id = ? OR session_id IS NULL
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var out []Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}
