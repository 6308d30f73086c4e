package supervisor

import (
	"syscall"
	"testing"
)

func TestCapturedSignalsHasNoDuplicatesAndExcludesUncatchable(t *testing.T) {
	want := []syscall.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGCONT}
	if len(capturedSignals) != len(want) {
		t.Fatalf("capturedSignals has %d entries, want %d", len(capturedSignals), len(want))
	}
	for _, s := range want {
		if _, ok := capturedSignals[s]; !ok {
			t.Errorf("capturedSignals missing %v", s)
		}
	}
	if _, ok := capturedSignals[syscall.SIGKILL]; ok {
		t.Error("capturedSignals must not include SIGKILL")
	}
	if _, ok := capturedSignals[syscall.SIGSTOP]; ok {
		t.Error("capturedSignals must not include SIGSTOP")
	}
}

func TestDumpRuntimeDoesNotPanic(t *testing.T) {
	sup := &Supervisor{
		pid:     1234,
		logger:  newStdoutLogger(1234),
		plugins: newPluginHost(),
		workers: newWorkerManager(nil, t.TempDir()),
	}
	sup.dumpRuntime()
}

func TestResidentSetSizeNeverNegative(t *testing.T) {
	if residentSetSize() > 1<<40 {
		t.Skip("implausible rss, skip rather than fail on an unusual host")
	}
}
