package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/odvcencio/warden/pkg/paths"
)

const envWardenWorkerPath = "WARDEN_WORKER_PATH"
const envWardenConfigPath = "WARDEN_CONFIG_PATH"

// resolveWorkerArgv finds the warden-worker binary the tool runner spawns
// for every call: an explicit env override, or a sibling of this binary.
func resolveWorkerArgv() ([]string, error) {
	if p := strings.TrimSpace(os.Getenv(envWardenWorkerPath)); p != "" {
		return []string{p}, nil
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable path: %w", err)
	}
	sibling := filepath.Join(filepath.Dir(self), "warden-worker")
	if _, err := os.Stat(sibling); err == nil {
		return []string{sibling}, nil
	}
	return nil, fmt.Errorf("warden-worker binary not found next to %s; set %s", self, envWardenWorkerPath)
}

func resolveConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(envWardenConfigPath)); p != "" {
		return p
	}
	return filepath.Join(paths.BaseDir(), "config.yaml")
}
