package pathsecurity

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinScopes_EmptyScopesAlwaysSucceeds(t *testing.T) {
	ok, reason := WithinScopes("/anything", nil)
	if !ok || reason != "Scope not required" {
		t.Errorf("got (%v, %q), want (true, \"Scope not required\")", ok, reason)
	}
}

func TestWithinScopes_ExactMatch(t *testing.T) {
	dir := t.TempDir()
	ok, _ := WithinScopes(dir, []string{dir})
	if !ok {
		t.Error("expected exact match to succeed")
	}
}

func TestWithinScopes_NestedPathInScope(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b.txt")
	ok, _ := WithinScopes(target, []string{dir})
	if !ok {
		t.Error("expected nested path within scope to succeed")
	}
}

func TestWithinScopes_OutsideScopesIsDenied(t *testing.T) {
	dir := t.TempDir()
	other := t.TempDir()
	ok, reason := WithinScopes(filepath.Join(other, "x"), []string{dir})
	if ok {
		t.Error("expected path outside scope to fail")
	}
	if reason != "outside allowed scopes" {
		t.Errorf("reason = %q, want 'outside allowed scopes'", reason)
	}
}

func TestWithinScopes_SymlinkEscapeIsDenied(t *testing.T) {
	scopeDir := t.TempDir()
	outsideDir := t.TempDir()

	target := filepath.Join(outsideDir, "secret.txt")
	if err := os.WriteFile(target, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	link := filepath.Join(scopeDir, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	ok, reason := WithinScopes(link, []string{scopeDir})
	if ok {
		t.Error("expected symlink escape to be denied")
	}
	if reason != "reparse point in path" {
		t.Errorf("reason = %q, want 'reparse point in path'", reason)
	}
}

func TestWithinScopes_SymlinkedIntermediateDirIsDenied(t *testing.T) {
	scopeDir := t.TempDir()
	outsideDir := t.TempDir()

	realSub := filepath.Join(outsideDir, "real")
	if err := os.Mkdir(realSub, 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	linkedSub := filepath.Join(scopeDir, "linked")
	if err := os.Symlink(realSub, linkedSub); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	target := filepath.Join(linkedSub, "file.txt")
	ok, reason := WithinScopes(target, []string{scopeDir})
	if ok {
		t.Error("expected escape through symlinked intermediate directory to be denied")
	}
	if reason != "reparse point in path" {
		t.Errorf("reason = %q, want 'reparse point in path'", reason)
	}
}

func TestWithinScopes_MultipleScopesFirstMatchWins(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	target := filepath.Join(dirB, "file.txt")

	ok, _ := WithinScopes(target, []string{dirA, dirB})
	if !ok {
		t.Error("expected match against second scope to succeed")
	}
}

func TestNormalize_ExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory available")
	}
	got, err := Normalize("~/foo")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := filepath.Join(home, "foo")
	if got != want {
		t.Errorf("Normalize(~/foo) = %q, want %q", got, want)
	}
}

func TestNormalize_EmptyReturnsEmpty(t *testing.T) {
	got, err := Normalize("")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if got != "" {
		t.Errorf("Normalize(\"\") = %q, want empty", got)
	}
}
