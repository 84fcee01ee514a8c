package secretstore

import (
	"path/filepath"
	"testing"

	"github.com/odvcencio/warden/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := Open(db, filepath.Join(t.TempDir(), "secret.key"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestPutGet_RoundTripsPlaintext(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("model.openai.apikey", "sk-super-secret"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get("model.openai.apikey")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "sk-super-secret" {
		t.Errorf("Get = (%q, %v), want (\"sk-super-secret\", true)", got, ok)
	}
}

func TestGet_MissingKeyReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("absent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestCiphertextIsNotPlaintext(t *testing.T) {
	base := t.TempDir()
	db, err := storage.New(filepath.Join(base, "warden.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer db.Close()

	s, err := Open(db, filepath.Join(base, "secret.key"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put("k", "plaintext-marker-value"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := db.GetSecret("k")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if string(raw) == "plaintext-marker-value" {
		t.Error("secret stored at rest in plaintext")
	}
}

func TestDelete_RemovesSecret(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected secret to be gone after delete")
	}
}

func TestOpen_ReusesPersistedKeyAcrossInstances(t *testing.T) {
	base := t.TempDir()
	keyPath := filepath.Join(base, "secret.key")
	dbPath := filepath.Join(base, "warden.db")

	db1, err := storage.New(dbPath)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	s1, err := Open(db1, keyPath)
	if err != nil {
		t.Fatalf("Open 1: %v", err)
	}
	if err := s1.Put("k", "persisted-value"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	db1.Close()

	db2, err := storage.New(dbPath)
	if err != nil {
		t.Fatalf("storage.New 2: %v", err)
	}
	defer db2.Close()
	s2, err := Open(db2, keyPath)
	if err != nil {
		t.Fatalf("Open 2: %v", err)
	}

	got, ok, err := s2.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || got != "persisted-value" {
		t.Errorf("Get after reopen = (%q, %v), want (\"persisted-value\", true)", got, ok)
	}
}

func TestListKeys_ReturnsStoredKeys(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("a", "1"); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	if err := s.Put("b", "2"); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	keys, err := s.ListKeys()
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("len(keys) = %d, want 2", len(keys))
	}
}
