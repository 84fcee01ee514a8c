package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Workspace is a named filesystem scope with its own allowed path
// scopes, allowed tool names, and setting overrides.
type Workspace struct {
	ID                string
	Name              string
	IsActive          bool
	AllowedPathScopes []string
	AllowedToolNames  []string
	SettingsOverrides map[string]any
	DefaultProfileID  string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func scanWorkspace(row interface{ Scan(...any) error }) (*Workspace, error) {
	var w Workspace
	var isActive int
	var defaultProfileID sql.NullString
	var pathScopesJSON, toolNamesJSON, overridesJSON string
	if err := row.Scan(&w.ID, &w.Name, &isActive, &pathScopesJSON, &toolNamesJSON, &overridesJSON, &defaultProfileID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.IsActive = isActive != 0
	w.DefaultProfileID = defaultProfileID.String
	if err := json.Unmarshal([]byte(pathScopesJSON), &w.AllowedPathScopes); err != nil {
		return nil, fmt.Errorf("decode allowed_path_scopes: %w", err)
	}
	if err := json.Unmarshal([]byte(toolNamesJSON), &w.AllowedToolNames); err != nil {
		return nil, fmt.Errorf("decode allowed_tool_names: %w", err)
	}
	if err := json.Unmarshal([]byte(overridesJSON), &w.SettingsOverrides); err != nil {
		return nil, fmt.Errorf("decode settings_overrides: %w", err)
	}
	return &w, nil
}

// CreateWorkspace inserts a new, inactive workspace.
func (s *Store) CreateWorkspace(w Workspace) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if w.SettingsOverrides == nil {
		w.SettingsOverrides = map[string]any{}
	}
	pathScopesJSON, err := json.Marshal(w.AllowedPathScopes)
	if err != nil {
		return fmt.Errorf("encode allowed_path_scopes: %w", err)
	}
	toolNamesJSON, err := json.Marshal(w.AllowedToolNames)
	if err != nil {
		return fmt.Errorf("encode allowed_tool_names: %w", err)
	}
	overridesJSON, err := json.Marshal(w.SettingsOverrides)
	if err != nil {
		return fmt.Errorf("encode settings_overrides: %w", err)
	}

	var defaultProfileID any
	if w.DefaultProfileID != "" {
		defaultProfileID = w.DefaultProfileID
	}

	_, err = s.db.Exec(`
		INSERT INTO workspaces (id, name, is_active, allowed_path_scopes, allowed_tool_names, settings_overrides, default_profile_id, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.Name, string(pathScopesJSON), string(toolNamesJSON), string(overridesJSON), defaultProfileID, w.CreatedAt, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

// GetWorkspace loads a single workspace by id.
func (s *Store) GetWorkspace(id string) (*Workspace, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRow(`
		SELECT id, name, is_active, allowed_path_scopes, allowed_tool_names, settings_overrides, default_profile_id, created_at, updated_at
		FROM workspaces WHERE id = ?
	`, id)
	w, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// GetActiveWorkspace returns the currently active workspace, or nil.
func (s *Store) GetActiveWorkspace() (*Workspace, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRow(`
		SELECT id, name, is_active, allowed_path_scopes, allowed_tool_names, settings_overrides, default_profile_id, created_at, updated_at
		FROM workspaces WHERE is_active = 1 LIMIT 1
	`)
	w, err := scanWorkspace(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

// ActivateWorkspace makes id the sole active workspace and, if it names
// a default profile, activates that profile too, all in one transaction.
func (s *Store) ActivateWorkspace(id string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE workspaces SET is_active = 0 WHERE is_active = 1`); err != nil {
			return fmt.Errorf("deactivate workspaces: %w", err)
		}
		res, err := tx.Exec(`UPDATE workspaces SET is_active = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("activate workspace: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("workspace %s not found", id)
		}

		var defaultProfileID sql.NullString
		row := tx.QueryRow(`SELECT default_profile_id FROM workspaces WHERE id = ?`, id)
		if err := row.Scan(&defaultProfileID); err != nil {
			return fmt.Errorf("load default profile: %w", err)
		}
		if !defaultProfileID.Valid || defaultProfileID.String == "" {
			return nil
		}

		if _, err := tx.Exec(`UPDATE profiles SET is_active = 0 WHERE is_active = 1`); err != nil {
			return fmt.Errorf("deactivate profiles: %w", err)
		}
		if _, err := tx.Exec(`UPDATE profiles SET is_active = 1 WHERE id = ?`, defaultProfileID.String); err != nil {
			return fmt.Errorf("activate default profile: %w", err)
		}
		return nil
	})
}

// ListWorkspaces returns every workspace, ordered by name.
func (s *Store) ListWorkspaces() ([]Workspace, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, name, is_active, allowed_path_scopes, allowed_tool_names, settings_overrides, default_profile_id, created_at, updated_at
		FROM workspaces ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}
