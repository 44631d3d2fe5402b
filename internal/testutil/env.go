// Package testutil provides utilities for testing caskr in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated directories created by SetupTestEnv.
type Env struct {
	Home     string
	Prefix   string
	CacheDir string
	StateDir string
}

// BinDir returns the bin directory under the isolated prefix.
func (e *Env) BinDir() string {
	return filepath.Join(e.Prefix, "bin")
}

// SetupTestEnv points HOME and every CASKR_ directory at a fresh temporary
// tree so tests never touch the real prefix, cache or receipts. Cleanup is
// handled by t.TempDir and t.Setenv.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Home:     filepath.Join(tmpDir, "home"),
		Prefix:   filepath.Join(tmpDir, "prefix"),
		CacheDir: filepath.Join(tmpDir, "cache"),
		StateDir: filepath.Join(tmpDir, "state"),
	}

	t.Setenv("HOME", env.Home)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("CASKR_PREFIX", env.Prefix)
	t.Setenv("CASKR_CACHE_DIR", env.CacheDir)
	t.Setenv("CASKR_STATE_DIR", env.StateDir)
	t.Setenv("CASKR_NO_PROGRESS", "true")
	t.Setenv("CASKR_RETRIES", "0")

	for _, dir := range []string{env.Home, env.BinDir(), env.CacheDir, env.StateDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}
