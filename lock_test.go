package supervisor

import (
	"errors"
	"os"
	"strconv"
	"testing"
)

func TestFileLockPluginAcquireThenDuplicateFails(t *testing.T) {
	dir := t.TempDir()

	first := NewFileLockPlugin(dir, "testd")
	if err := first.Acquire(); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	second := NewFileLockPlugin(dir, "testd")
	// Stamp the lock file with a pid that is alive but is not this
	// process's own (Acquire treats its own pid as self-owned): the parent
	// process that launched the test binary is the simplest such fixture
	// available without spawning a subprocess.
	if err := os.WriteFile(first.path, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatalf("seed lock file: %v", err)
	}

	err := second.Acquire()
	if !errors.Is(err, ErrLockHeld) {
		t.Fatalf("second Acquire err = %v, want ErrLockHeld", err)
	}
}

func TestFileLockPluginTeardownOnlyRemovesOwnLock(t *testing.T) {
	dir := t.TempDir()
	lp := NewFileLockPlugin(dir, "testd")

	if err := lp.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Simulate another process having since reclaimed the path.
	if err := os.WriteFile(lp.path, []byte("999999999"), 0o644); err != nil {
		t.Fatalf("overwrite lock file: %v", err)
	}

	if err := lp.Teardown(); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	if _, err := os.Stat(lp.path); err != nil {
		t.Fatal("lock file removed even though this process no longer owned it")
	}
}

func TestFileLockPluginCheckEnvironmentRejectsMissingDir(t *testing.T) {
	lp := NewFileLockPlugin("/no/such/directory", "testd")
	errs := lp.CheckEnvironment()
	if len(errs) == 0 {
		t.Fatal("expected a check_environment failure for a missing lock directory")
	}
}
