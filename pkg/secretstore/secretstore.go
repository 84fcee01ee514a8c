// Package secretstore encrypts model-source API keys and other
// user-supplied secrets at rest with AES-256-GCM under a key generated on
// first use and kept in a 0600-permissioned file, substituting for
// platform secret stores (Windows DPAPI, macOS Keychain) that have no
// portable Go equivalent.
package secretstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"time"

	wardenerrors "github.com/odvcencio/warden/pkg/errors"
	"github.com/odvcencio/warden/pkg/storage"
)

const keySize = 32 // AES-256

// Store encrypts and decrypts secrets backed by a storage.Store, using a
// key loaded from (or generated into) keyPath.
type Store struct {
	db  *storage.Store
	gcm cipher.AEAD
}

// Open loads the local key from keyPath, generating and persisting a new
// one on first use, and returns a Store ready to encrypt/decrypt.
func Open(db *storage.Store, keyPath string) (*Store, error) {
	key, err := loadOrCreateKey(keyPath)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.ErrCodeInternal, wardenerrors.KindTransient, "build cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, wardenerrors.Wrap(err, wardenerrors.ErrCodeInternal, wardenerrors.KindTransient, "build gcm")
	}
	return &Store{db: db, gcm: gcm}, nil
}

func loadOrCreateKey(keyPath string) ([]byte, error) {
	if data, err := os.ReadFile(keyPath); err == nil {
		if len(data) != keySize {
			return nil, fmt.Errorf("secret key at %s is %d bytes, want %d", keyPath, len(data), keySize)
		}
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create secret key dir: %w", err)
	}
	if err := os.WriteFile(keyPath, key, 0600); err != nil {
		return nil, fmt.Errorf("write secret key: %w", err)
	}
	return key, nil
}

// Put encrypts plaintext and stores it under key.
func (s *Store) Put(key, plaintext string) error {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return s.db.PutSecret(key, sealed, time.Now().UTC())
}

// Get decrypts and returns the secret stored under key. ("", false, nil)
// means no secret exists for that key.
func (s *Store) Get(key string) (string, bool, error) {
	sealed, err := s.db.GetSecret(key)
	if err != nil {
		return "", false, err
	}
	if sealed == nil {
		return "", false, nil
	}

	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return "", false, fmt.Errorf("secret %q ciphertext too short", key)
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", false, wardenerrors.Wrap(err, wardenerrors.ErrCodeInternal, wardenerrors.KindTransient, "decrypt secret")
	}
	return string(plaintext), true, nil
}

// Delete removes a secret. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	return s.db.DeleteSecret(key)
}

// ListKeys returns every stored secret's key, without its value.
func (s *Store) ListKeys() ([]string, error) {
	return s.db.ListSecretKeys()
}
