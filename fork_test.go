package supervisor

import (
	"context"
	"os"
	"testing"
)

func TestMaybeRunForkReturnsWithoutMarker(t *testing.T) {
	if err := os.Unsetenv(envForkCallback); err != nil {
		t.Fatalf("Unsetenv: %v", err)
	}
	// MaybeRunFork must return (not os.Exit) when this process was not
	// spawned as a fork child. Returning from the call is the test.
	MaybeRunFork()
}

func TestRegisterForkIsRetrievable(t *testing.T) {
	called := false
	RegisterFork("fork-test-cb", func(ctx context.Context, payload []byte) error {
		called = true
		return nil
	})

	forkRegistry.mu.Lock()
	fn, ok := forkRegistry.m["fork-test-cb"]
	forkRegistry.mu.Unlock()
	if !ok {
		t.Fatal("RegisterFork did not register the callback")
	}

	if err := fn(context.Background(), nil); err != nil {
		t.Fatalf("invoking registered fork callback: %v", err)
	}
	if !called {
		t.Fatal("registered fork callback did not run")
	}
}
