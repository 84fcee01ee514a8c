// Package pathsecurity decides whether a path is contained within a set of
// allowed scopes and guards against escape via symlinks or other
// filesystem redirection planted between the nearest existing ancestor and
// the matching scope root.
package pathsecurity

import (
	"os"
	"path/filepath"
	"strings"
)

// Normalize expands a leading ~ and returns the cleaned absolute form of
// path without requiring it to exist.
func Normalize(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	path = expandHome(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func expandHome(path string) string {
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// WithinScopes reports whether target is contained in scopes, and why not
// when it isn't. An empty scope list means "no scope required" and always
// succeeds. Target and every scope are normalized before comparison.
//
// Algorithm: find a scope equal to or an ancestor of target; if one is
// found, walk upward from the nearest existing ancestor of target toward
// that scope and reject if any intermediate node is a symlink.
func WithinScopes(target string, scopes []string) (bool, string) {
	if len(scopes) == 0 {
		return true, "Scope not required"
	}

	normTarget, err := Normalize(target)
	if err != nil {
		return false, "invalid path"
	}

	var matched string
	for _, s := range scopes {
		normScope, err := Normalize(s)
		if err != nil || normScope == "" {
			continue
		}
		if normTarget == normScope || isAncestor(normScope, normTarget) {
			matched = normScope
			break
		}
	}

	if matched == "" {
		return false, "outside allowed scopes"
	}

	if hasReparsePointBetween(normTarget, matched) {
		return false, "reparse point in path"
	}

	return true, "Granted"
}

// isAncestor reports whether ancestor is equal to or a path-prefix
// ancestor of target.
func isAncestor(ancestor, target string) bool {
	rel, err := filepath.Rel(ancestor, target)
	if err != nil {
		return false
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hasReparsePointBetween walks upward from the nearest existing ancestor of
// target toward scope (exclusive of scope itself) and reports whether any
// intermediate node is a symlink. Go has no portable equivalent of
// Windows's FILE_ATTRIBUTE_REPARSE_POINT; os.Lstat + os.ModeSymlink is the
// cross-platform substitute, catching the symlink escape case the original
// targets.
func hasReparsePointBetween(target, scope string) bool {
	current := nearestExistingAncestor(target)
	for current != "" && current != scope && len(current) >= len(scope) {
		info, err := os.Lstat(current)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			return true
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return false
}

func nearestExistingAncestor(path string) string {
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}
