package config

import (
	"path/filepath"
	"strings"
)

// ResolveWorkspaceRoot normalizes a workspace root path the way the guard
// and path-security layer expect: home-expanded, absolute, no trailing
// separator. An empty input falls back to the process working directory
// via filepath.Abs(".").
func ResolveWorkspaceRoot(root string) (string, error) {
	root = expandHomeDir(strings.TrimSpace(root))
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
