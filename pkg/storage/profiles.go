package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// maxProfileHistory bounds how many prior settings snapshots a profile
// keeps; older snapshots are dropped on update.
const maxProfileHistory = 20

// ProfileSnapshot is a single prior version of a profile's settings,
// kept so a profile can be inspected after being overwritten.
type ProfileSnapshot struct {
	Version   int            `json:"version"`
	Settings  map[string]any `json:"settings"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Profile is a named bundle of settings (a persona) that can be made
// active; at most one profile is active at a time.
type Profile struct {
	ID        string
	Name      string
	Version   int
	IsActive  bool
	Settings  map[string]any
	History   []ProfileSnapshot
	CreatedAt time.Time
	UpdatedAt time.Time
}

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var p Profile
	var isActive int
	var settingsJSON, historyJSON string
	if err := row.Scan(&p.ID, &p.Name, &p.Version, &isActive, &settingsJSON, &historyJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.IsActive = isActive != 0
	if err := json.Unmarshal([]byte(settingsJSON), &p.Settings); err != nil {
		return nil, fmt.Errorf("decode profile settings: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &p.History); err != nil {
		return nil, fmt.Errorf("decode profile history: %w", err)
	}
	return &p, nil
}

// CreateProfile inserts a new profile at version 1, inactive.
func (s *Store) CreateProfile(p Profile) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	if p.Settings == nil {
		p.Settings = map[string]any{}
	}
	settingsJSON, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("encode profile settings: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles (id, name, version, is_active, settings, history, created_at, updated_at)
		VALUES (?, ?, 1, 0, ?, '[]', ?, ?)
	`, p.ID, p.Name, string(settingsJSON), p.CreatedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// GetProfile loads a single profile by id.
func (s *Store) GetProfile(id string) (*Profile, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRow(`
		SELECT id, name, version, is_active, settings, history, created_at, updated_at
		FROM profiles WHERE id = ?
	`, id)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetActiveProfile returns the currently active profile, or nil if none is.
func (s *Store) GetActiveProfile() (*Profile, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	row := s.db.QueryRow(`
		SELECT id, name, version, is_active, settings, history, created_at, updated_at
		FROM profiles WHERE is_active = 1 LIMIT 1
	`)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// UpdateProfileSettings replaces a profile's settings, snapshotting the
// prior version into history (trimmed to maxProfileHistory entries) and
// bumping the version counter.
func (s *Store) UpdateProfileSettings(id string, settings map[string]any, now time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return s.WithTx(func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT id, name, version, is_active, settings, history, created_at, updated_at
			FROM profiles WHERE id = ?
		`, id)
		existing, err := scanProfile(row)
		if err != nil {
			return fmt.Errorf("load profile for update: %w", err)
		}

		snapshot := ProfileSnapshot{Version: existing.Version, Settings: existing.Settings, UpdatedAt: existing.UpdatedAt}
		history := append(existing.History, snapshot)
		if len(history) > maxProfileHistory {
			history = history[len(history)-maxProfileHistory:]
		}

		settingsJSON, err := json.Marshal(settings)
		if err != nil {
			return fmt.Errorf("encode profile settings: %w", err)
		}
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("encode profile history: %w", err)
		}

		_, err = tx.Exec(`
			UPDATE profiles
			SET version = ?, settings = ?, history = ?, updated_at = ?
			WHERE id = ?
		`, existing.Version+1, string(settingsJSON), string(historyJSON), now, id)
		return err
	})
}

// ActivateProfile makes id the sole active profile, deactivating every
// other profile in the same transaction.
func (s *Store) ActivateProfile(id string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	return s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE profiles SET is_active = 0 WHERE is_active = 1`); err != nil {
			return fmt.Errorf("deactivate profiles: %w", err)
		}
		res, err := tx.Exec(`UPDATE profiles SET is_active = 1 WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("activate profile: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("profile %s not found", id)
		}
		return nil
	})
}

// ListProfiles returns every profile, ordered by name.
func (s *Store) ListProfiles() ([]Profile, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`
		SELECT id, name, version, is_active, settings, history, created_at, updated_at
		FROM profiles ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
