package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvDataDir overrides the default app-data directory, mirroring the
// teacher's log-dir override convention.
const EnvDataDir = "WARDEN_DATA_DIR"

// BaseDir returns the root data directory: logs, the sqlite store, the
// secret key file, and per-session quarantine/tool_runs trees all live
// under it.
func BaseDir() string {
	if dir := strings.TrimSpace(os.Getenv(EnvDataDir)); dir != "" {
		return filepath.Clean(expandHomePath(dir))
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "warden")
	}
	return filepath.Join(".warden")
}

func expandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/"))
	}
	return path
}

// LogsDir returns the logging destination passed to logging.NewLogger.
func LogsDir() string {
	return filepath.Join(BaseDir(), "logs")
}

// DatabasePath returns the sqlite DSN path for the broker's store.
func DatabasePath() string {
	return filepath.Join(BaseDir(), "warden.db")
}

// SecretKeyPath returns the path to the AES-256-GCM local key file used by
// pkg/secretstore.
func SecretKeyPath() string {
	return filepath.Join(BaseDir(), "secret.key")
}

// QuarantineDir returns the per-session quarantine area: under SPEC_FULL.md's
// quarantine-mode resolution, a read-family tool's inputs from outside the
// workspace are copied here and the tool reads the copies.
func QuarantineDir(sessionID string) string {
	return filepath.Join(BaseDir(), "quarantine", sanitize(sessionID))
}

// ToolRunsDir returns the per-session scratch directory the tool worker
// subprocess runs in (its working directory).
func ToolRunsDir(sessionID string) string {
	return filepath.Join(BaseDir(), "tool_runs", sanitize(sessionID))
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return filepath.Base(id)
}
