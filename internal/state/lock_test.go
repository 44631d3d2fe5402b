package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireLock(t *testing.T) {
	t.Run("creates lock file", func(t *testing.T) {
		dir := t.TempDir()

		lock, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("AcquireLock failed: %v", err)
		}
		defer lock.Release()

		lockPath := filepath.Join(dir, LockFileName)
		if lock.Path() != lockPath {
			t.Errorf("Path() = %q, want %q", lock.Path(), lockPath)
		}
		data, err := os.ReadFile(lockPath)
		if err != nil {
			t.Fatalf("lock file not created: %v", err)
		}
		if !strings.HasPrefix(string(data), "pid=") {
			t.Errorf("unexpected lock content: %q", data)
		}
	})

	t.Run("prevents concurrent locks", func(t *testing.T) {
		dir := t.TempDir()

		lock1, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("first AcquireLock failed: %v", err)
		}
		defer lock1.Release()

		_, err = AcquireLock(context.Background(), dir)
		if !errors.Is(err, ErrLockExists) {
			t.Errorf("expected ErrLockExists, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if _, err := AcquireLock(ctx, t.TempDir()); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("reacquires after release", func(t *testing.T) {
		dir := t.TempDir()

		lock1, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatal(err)
		}
		if err := lock1.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
		if err := lock1.Release(); err != nil {
			t.Errorf("second Release failed: %v", err)
		}

		lock2, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("AcquireLock after release failed: %v", err)
		}
		lock2.Release()
	})

	t.Run("removes stale lock", func(t *testing.T) {
		dir := t.TempDir()
		lockPath := filepath.Join(dir, LockFileName)
		if err := os.WriteFile(lockPath, []byte("pid=1\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		old := time.Now().Add(-2 * StaleLockThreshold)
		if err := os.Chtimes(lockPath, old, old); err != nil {
			t.Fatal(err)
		}

		lock, err := AcquireLock(context.Background(), dir)
		if err != nil {
			t.Fatalf("AcquireLock with stale lock failed: %v", err)
		}
		lock.Release()
	})
}
