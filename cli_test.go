package supervisor

import "testing"

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"-d", "-v", "-p", "/tmp/app.pid"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !f.Daemon || !f.Verbose || f.PIDFile != "/tmp/app.pid" {
		t.Fatalf("got %+v", f)
	}
}

func TestParseFlagsHelp(t *testing.T) {
	f, err := ParseFlags([]string{"-H"})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !f.Help {
		t.Fatal("expected Help to be set")
	}
}

func TestStrippedDaemonArgsRemovesDaemonFlag(t *testing.T) {
	got := strippedDaemonArgs([]string{"-d", "-p", "/tmp/x.pid", "-v"})
	want := []string{"-p", "/tmp/x.pid", "-v"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
