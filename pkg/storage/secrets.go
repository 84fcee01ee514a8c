package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// PutSecret upserts an already-encrypted secret blob under key. The store
// never sees plaintext: encryption happens one layer up, in the secret
// store that wraps this.
func (s *Store) PutSecret(key string, ciphertext []byte, now time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`
		INSERT INTO secrets (key, ciphertext, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at
	`, key, ciphertext, now)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

// GetSecret returns the ciphertext blob for key, or (nil, nil) if absent.
func (s *Store) GetSecret(key string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	var ciphertext []byte
	err := s.db.QueryRow(`SELECT ciphertext FROM secrets WHERE key = ?`, key).Scan(&ciphertext)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return ciphertext, nil
}

// DeleteSecret removes a secret by key. Deleting an absent key is a no-op.
func (s *Store) DeleteSecret(key string) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	_, err := s.db.Exec(`DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// ListSecretKeys returns every stored secret's key, without its ciphertext.
func (s *Store) ListSecretKeys() ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreClosed
	}
	rows, err := s.db.Query(`SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list secret keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
