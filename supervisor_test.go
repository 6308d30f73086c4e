package supervisor

import (
	"errors"
	"testing"
	"time"
)

func TestSupervisorCheckEnvironmentRejectsLowAutoRestart(t *testing.T) {
	sup := &Supervisor{
		filename:            "/bin/true",
		autoRestartInterval: 5 * time.Second,
		plugins:             newPluginHost(),
	}
	if err := sup.checkEnvironment(); err == nil {
		t.Fatal("expected environment check to reject an auto-restart interval below MinRestartSeconds")
	}
}

func TestSupervisorCheckEnvironmentPassesWithValidConfig(t *testing.T) {
	sup := &Supervisor{
		filename:            "/bin/true",
		autoRestartInterval: 30 * time.Second,
		plugins:             newPluginHost(),
	}
	if err := sup.checkEnvironment(); err != nil {
		t.Fatalf("unexpected environment check failure: %v", err)
	}
}

func TestSupervisorCheckEnvironmentPropagatesLockHeld(t *testing.T) {
	sup := &Supervisor{
		filename:            "/bin/true",
		autoRestartInterval: 30 * time.Second,
		plugins:             newPluginHost(),
		lock:                &alwaysHeldLock{},
	}
	if err := sup.checkEnvironment(); !errors.Is(err, ErrLockHeld) {
		t.Fatalf("err = %v, want ErrLockHeld", err)
	}
}

func TestSupervisorRestartRequestRoundTrip(t *testing.T) {
	sup := &Supervisor{}

	if pending, _ := sup.takeRestartRequest(); pending {
		t.Fatal("no restart should be pending initially")
	}

	sup.requestRestart(restartReasonSIGHUP)
	pending, reason := sup.takeRestartRequest()
	if !pending || reason != restartReasonSIGHUP {
		t.Fatalf("pending=%v reason=%q, want true/%q", pending, reason, restartReasonSIGHUP)
	}

	if pending, _ := sup.takeRestartRequest(); pending {
		t.Fatal("restart request should be consumed after the first take")
	}
}

func TestSupervisorShutdownLatch(t *testing.T) {
	sup := &Supervisor{}
	if sup.shutdownRequested() {
		t.Fatal("shutdown should not be requested initially")
	}
	sup.requestShutdown()
	if !sup.shutdownRequested() {
		t.Fatal("shutdown should be requested after requestShutdown")
	}
}

func TestSupervisorConstructionSingleton(t *testing.T) {
	if _, err := New(""); !errors.Is(err, ErrNoFilename) {
		t.Fatalf("New(\"\") err = %v, want ErrNoFilename", err)
	}

	sup, err := New("/bin/true", WithClassName("singleton-test"), WithAutoRestartInterval(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sup.filename != "/bin/true" {
		t.Errorf("filename = %q, want /bin/true", sup.filename)
	}
	if sup.autoRestartInterval != time.Hour {
		t.Errorf("autoRestartInterval = %v, want 1h", sup.autoRestartInterval)
	}

	if _, err := New("/bin/true"); !errors.Is(err, ErrAlreadyConstructed) {
		t.Fatalf("second New err = %v, want ErrAlreadyConstructed", err)
	}
}

type alwaysHeldLock struct{}

func (l *alwaysHeldLock) CheckEnvironment() []string { return nil }
func (l *alwaysHeldLock) Setup() error               { return nil }
func (l *alwaysHeldLock) Teardown() error            { return nil }
func (l *alwaysHeldLock) Acquire() error             { return nil }
func (l *alwaysHeldLock) IsHeldByOther() bool        { return true }
