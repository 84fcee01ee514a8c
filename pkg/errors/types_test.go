package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeToolNotFound, KindValidation, "unknown tool xyz")

	if err == nil {
		t.Fatal("New should return non-nil error")
	}
	if err.Code != ErrCodeToolNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeToolNotFound)
	}
	if err.Kind != KindValidation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindValidation)
	}
	if err.Underlying != nil {
		t.Error("Underlying should be nil for New error")
	}
	if len(err.Stack) == 0 {
		t.Error("Stack should be captured")
	}
	if err.Retryable {
		t.Error("Retryable should default to false")
	}
}

func TestWrap(t *testing.T) {
	underlying := errors.New("original error")
	err := Wrap(underlying, ErrCodeStorageRead, KindTransient, "failed to read storage")

	if err == nil {
		t.Fatal("Wrap should return non-nil error")
	}
	if err.Underlying != underlying {
		t.Error("Underlying should be preserved")
	}
	if !strings.Contains(err.Error(), "original error") {
		t.Error("Error string should include underlying error")
	}
}

func TestWrap_Nil(t *testing.T) {
	if Wrap(nil, ErrCodeInternal, KindTransient, "test") != nil {
		t.Error("Wrap of nil should return nil")
	}
}

func TestDenied(t *testing.T) {
	err := Denied("filesystem.read", "outside allowed scopes")

	if err.Kind != KindPermissionDenied {
		t.Fatalf("Kind = %v, want PermissionDenied", err.Kind)
	}
	want := "permission_required:filesystem.read:outside allowed scopes"
	if got := err.MachineCode(); got != want {
		t.Errorf("MachineCode() = %q, want %q", got, want)
	}
}

func TestMachineCode_OnlyForPermissionDenied(t *testing.T) {
	err := LimitExceeded("rate limit exceeded")
	if err.MachineCode() != "" {
		t.Error("MachineCode should be empty for non-permission errors")
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeWorkerFailed, KindWorkerFailure, "tool failed")
	err.WithContext("tool", "file_read").WithContext("exit_code", 1)

	if err.Context["tool"] != "file_read" {
		t.Error("Context should contain 'tool' key")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "tool") {
		t.Error("Error string should include context")
	}
}

func TestWithRetryable(t *testing.T) {
	err := New(ErrCodeTransientUpstrm, KindTransient, "upstream timed out")
	err.WithRetryable(true)
	if !err.IsRetryable() {
		t.Error("IsRetryable should return true")
	}
}

func TestUnwrap(t *testing.T) {
	underlying := errors.New("underlying")
	err := Wrap(underlying, ErrCodeInternal, KindTransient, "wrapped")
	if err.Unwrap() != underlying {
		t.Error("Unwrap should return underlying error")
	}
}

func TestIsKind(t *testing.T) {
	err := LimitExceeded("budget exceeded")
	if !IsKind(err, KindLimit) {
		t.Error("IsKind should return true for matching kind")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind should return false for non-matching kind")
	}
	if IsKind(errors.New("standard"), KindLimit) {
		t.Error("IsKind should return false for foreign errors")
	}
}

func TestGetCode(t *testing.T) {
	err := WorkerFailed("timed out")
	if GetCode(err) != ErrCodeWorkerFailed {
		t.Error("GetCode should return the structured code")
	}
	if GetCode(nil) != "" {
		t.Error("GetCode should return empty string for nil")
	}
	if GetCode(errors.New("standard")) != ErrCodeInternal {
		t.Error("GetCode should return ErrCodeInternal for foreign errors")
	}
}

func TestChaining(t *testing.T) {
	err := New(ErrCodeTransientUpstrm, KindTransient, "upstream failed").
		WithContext("provider", "search").
		WithRetryable(true)

	if len(err.Context) != 1 || !err.Retryable {
		t.Error("chaining should preserve all mutations")
	}
}
