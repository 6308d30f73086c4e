package supervisor

import (
	"errors"
	"testing"
)

type stubPlugin struct {
	envErrs      []string
	setupErr     error
	teardownErr  error
	setupCalls   *[]string
	teardownCalls *[]string
	alias        string
}

func (p *stubPlugin) CheckEnvironment() []string { return p.envErrs }

func (p *stubPlugin) Setup() error {
	if p.setupCalls != nil {
		*p.setupCalls = append(*p.setupCalls, p.alias)
	}
	return p.setupErr
}

func (p *stubPlugin) Teardown() error {
	if p.teardownCalls != nil {
		*p.teardownCalls = append(*p.teardownCalls, p.alias)
	}
	return p.teardownErr
}

func TestPluginHostLoadDuplicateAlias(t *testing.T) {
	host := newPluginHost()
	if err := host.Load("a", &stubPlugin{alias: "a"}); err != nil {
		t.Fatalf("first load: %v", err)
	}
	err := host.Load("a", &stubPlugin{alias: "a"})
	if !errors.Is(err, ErrDuplicatePlugin) {
		t.Fatalf("second load error = %v, want ErrDuplicatePlugin", err)
	}
}

func TestPluginHostSetupOrderAndTeardownReverseOrder(t *testing.T) {
	host := newPluginHost()
	var setupOrder, teardownOrder []string

	for _, alias := range []string{"one", "two", "three"} {
		p := &stubPlugin{alias: alias, setupCalls: &setupOrder, teardownCalls: &teardownOrder}
		if err := host.Load(alias, p); err != nil {
			t.Fatalf("load %s: %v", alias, err)
		}
	}

	if err := host.Setup(); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	wantSetup := []string{"one", "two", "three"}
	if !equalStrings(setupOrder, wantSetup) {
		t.Errorf("setup order = %v, want %v", setupOrder, wantSetup)
	}

	host.Teardown(nil)
	wantTeardown := []string{"three", "two", "one"}
	if !equalStrings(teardownOrder, wantTeardown) {
		t.Errorf("teardown order = %v, want %v", teardownOrder, wantTeardown)
	}
}

func TestPluginHostCheckEnvironmentAggregates(t *testing.T) {
	host := newPluginHost()
	_ = host.Load("a", &stubPlugin{alias: "a", envErrs: []string{"missing config"}})
	_ = host.Load("b", &stubPlugin{alias: "b"})
	_ = host.Load("c", &stubPlugin{alias: "c", envErrs: []string{"bad path", "bad port"}})

	merr := host.CheckEnvironment()
	if merr == nil {
		t.Fatal("expected aggregated errors, got nil")
	}
	if len(merr.Errors) != 3 {
		t.Fatalf("got %d errors, want 3", len(merr.Errors))
	}
}

func TestPluginHostClearAfterForkDropsEntriesWithoutTeardown(t *testing.T) {
	host := newPluginHost()
	var teardownOrder []string
	_ = host.Load("a", &stubPlugin{alias: "a", teardownCalls: &teardownOrder})

	host.ClearAfterFork()

	if got := host.Get("a"); got != nil {
		t.Fatal("plugin still resolvable after ClearAfterFork")
	}
	host.Teardown(nil)
	if len(teardownOrder) != 0 {
		t.Fatalf("teardown ran after fork-clear: %v", teardownOrder)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
