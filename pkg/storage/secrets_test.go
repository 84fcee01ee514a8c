package storage

import (
	"bytes"
	"testing"
	"time"
)

func TestPutSecret_GetSecretRoundTrips(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutSecret("model.openai.apikey", []byte("ciphertext-bytes"), time.Now().UTC()); err != nil {
		t.Fatalf("PutSecret: %v", err)
	}

	got, err := s.GetSecret("model.openai.apikey")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if !bytes.Equal(got, []byte("ciphertext-bytes")) {
		t.Errorf("GetSecret = %v, want ciphertext-bytes", got)
	}
}

func TestGetSecret_MissingKeyReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSecret("missing")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != nil {
		t.Errorf("GetSecret(missing) = %v, want nil", got)
	}
}

func TestPutSecret_OverwritesExisting(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutSecret("k", []byte("v1"), time.Now().UTC()); err != nil {
		t.Fatalf("PutSecret v1: %v", err)
	}
	if err := s.PutSecret("k", []byte("v2"), time.Now().UTC()); err != nil {
		t.Fatalf("PutSecret v2: %v", err)
	}

	got, err := s.GetSecret("k")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Errorf("GetSecret = %v, want v2", got)
	}
}

func TestDeleteSecret_RemovesKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutSecret("k", []byte("v"), time.Now().UTC()); err != nil {
		t.Fatalf("PutSecret: %v", err)
	}
	if err := s.DeleteSecret("k"); err != nil {
		t.Fatalf("DeleteSecret: %v", err)
	}
	got, err := s.GetSecret("k")
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if got != nil {
		t.Error("expected secret to be gone after delete")
	}
}

func TestListSecretKeys_OrdersAlphabetically(t *testing.T) {
	s := newTestStore(t)
	for _, k := range []string{"zeta", "alpha", "mike"} {
		if err := s.PutSecret(k, []byte("v"), time.Now().UTC()); err != nil {
			t.Fatalf("PutSecret(%s): %v", k, err)
		}
	}

	keys, err := s.ListSecretKeys()
	if err != nil {
		t.Fatalf("ListSecretKeys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "alpha" || keys[2] != "zeta" {
		t.Fatalf("keys = %v, want alphabetical", keys)
	}
}
