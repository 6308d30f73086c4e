package supervisor

import (
	"errors"
	"testing"
)

func TestOpErrorUnwrap(t *testing.T) {
	err := &OpError{Op: OpLock, Identity: "myapp", Err: ErrLockHeld}
	if !errors.Is(err, ErrLockHeld) {
		t.Fatal("errors.Is did not see through OpError.Unwrap")
	}
	if err.Error() == "" {
		t.Fatal("OpError.Error() returned empty string")
	}
}

func TestMultiErrorAddAndErr(t *testing.T) {
	merr := &MultiError{}
	if merr.Err() != nil {
		t.Fatal("empty MultiError.Err() should be nil")
	}

	merr.Add(nil)
	if merr.Err() != nil {
		t.Fatal("Add(nil) should not register an error")
	}

	merr.Add(ErrLockHeld)
	if merr.Err() == nil {
		t.Fatal("Add(err) should register an error")
	}
	if len(merr.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(merr.Errors))
	}

	merr.Add(ErrTimeout)
	if len(merr.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(merr.Errors))
	}
}
