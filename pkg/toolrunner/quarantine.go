package toolrunner

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/warden/pkg/pathsecurity"
)

// quarantineDir returns the per-session quarantine scratch area under the
// app data root, creating it if necessary.
func quarantineDir(dataDir, sessionID string) (string, error) {
	dir := filepath.Join(dataDir, "quarantine", sessionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create quarantine dir: %w", err)
	}
	return dir, nil
}

// quarantinePaths copies every path outside workspaceScopes into the
// session's quarantine area and returns a rewritten path list in the same
// order, substituting the quarantined copy for any path that needed one.
// Copies run concurrently; any single failure cancels the rest so a batch
// never ends up partially quarantined.
func quarantinePaths(dataDir, sessionID string, paths []string, workspaceScopes []string) ([]string, error) {
	dir, err := quarantineDir(dataDir, sessionID)
	if err != nil {
		return nil, err
	}

	rewritten := make([]string, len(paths))
	var g errgroup.Group
	for i, p := range paths {
		i, p := i, p
		ok, _ := pathsecurity.WithinScopes(p, workspaceScopes)
		if ok {
			rewritten[i] = p
			continue
		}
		g.Go(func() error {
			dest := filepath.Join(dir, fmt.Sprintf("%d-%s", i, filepath.Base(p)))
			if err := copyFile(p, dest); err != nil {
				return fmt.Errorf("quarantine copy %s: %w", p, err)
			}
			rewritten[i] = dest
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rewritten, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
