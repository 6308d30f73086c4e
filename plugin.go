package supervisor

import (
	"fmt"
	"sync"
)

// Plugin is the capability every pluggable component must implement.
// CheckEnvironment is aggregated into the composite environment-check
// report before Init; Setup runs in registration order before EventInit
// fires; Teardown runs in reverse order on normal supervisor destruction.
type Plugin interface {
	CheckEnvironment() []string
	Setup() error
	Teardown() error
}

// InstallInstructionsProvider is an optional capability a Plugin may
// implement to contribute to the -i install-instructions surface.
type InstallInstructionsProvider interface {
	InstallInstructions() string
}

type pluginEntry struct {
	alias  string
	plugin Plugin
}

// PluginHost owns the ordered plugin registry: it loads plugins, runs
// their environment checks and setup in registration order, and tears
// them down in reverse. ClearAfterFork drops every entry without
// tearing any down.
type PluginHost struct {
	mu      sync.Mutex
	entries []pluginEntry
	byAlias map[string]Plugin
}

// newPluginHost constructs an empty plugin registry.
func newPluginHost() *PluginHost {
	return &PluginHost{byAlias: make(map[string]Plugin)}
}

// Load binds plugin to the registry under alias, appending it to the
// initialization order. A duplicate alias is a configuration error.
func (h *PluginHost) Load(alias string, plugin Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.byAlias[alias]; exists {
		return &OpError{Op: OpPlugin, Identity: alias, Err: ErrDuplicatePlugin}
	}
	h.byAlias[alias] = plugin
	h.entries = append(h.entries, pluginEntry{alias: alias, plugin: plugin})
	return nil
}

// Get returns the plugin bound to alias, or nil if none is registered.
func (h *PluginHost) Get(alias string) Plugin {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byAlias[alias]
}

// CheckEnvironment aggregates every loaded plugin's CheckEnvironment
// output into a single composite report. A nil return means all plugins
// passed.
func (h *PluginHost) CheckEnvironment() *MultiError {
	h.mu.Lock()
	entries := append([]pluginEntry(nil), h.entries...)
	h.mu.Unlock()

	merr := &MultiError{}
	for _, e := range entries {
		for _, msg := range e.plugin.CheckEnvironment() {
			merr.Add(fmt.Errorf("%s: %s", e.alias, msg))
		}
	}
	if merr.Err() == nil {
		return nil
	}
	return merr
}

// Setup runs every loaded plugin's Setup in registration order, stopping
// and returning the first error encountered.
func (h *PluginHost) Setup() error {
	h.mu.Lock()
	entries := append([]pluginEntry(nil), h.entries...)
	h.mu.Unlock()

	for _, e := range entries {
		if err := e.plugin.Setup(); err != nil {
			return &OpError{Op: OpPlugin, Identity: e.alias, Err: err}
		}
	}
	return nil
}

// Teardown runs every loaded plugin's Teardown in reverse registration
// order, logging (rather than aborting on) each failure, per the spec's
// "logged at ERROR if during teardown" policy.
func (h *PluginHost) Teardown(onError func(alias string, err error)) {
	h.mu.Lock()
	entries := append([]pluginEntry(nil), h.entries...)
	h.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.plugin.Teardown(); err != nil && onError != nil {
			onError(e.alias, err)
		}
	}
}

// InstallInstructions aggregates every loaded plugin's install
// instructions, in load order, for the -i flag.
func (h *PluginHost) InstallInstructions() []string {
	h.mu.Lock()
	entries := append([]pluginEntry(nil), h.entries...)
	h.mu.Unlock()

	var out []string
	for _, e := range entries {
		if p, ok := e.plugin.(InstallInstructionsProvider); ok {
			if text := p.InstallInstructions(); text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

// ClearAfterFork empties the registry without invoking Teardown on any
// entry, so a later Teardown cannot release locks or delete files the
// entries own. No code in this package calls it: a Fork child is a fresh
// process image that runs MaybeRunFork and never builds a registry.
func (h *PluginHost) ClearAfterFork() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.byAlias = make(map[string]Plugin)
}

// aliases returns the registered plugin aliases in load order.
func (h *PluginHost) aliases() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.alias
	}
	return out
}
