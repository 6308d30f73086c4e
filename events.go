package supervisor

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
)

// Event identifies a typed slot on the Event Bus. Values below
// reservedEventCeiling are reserved for the built-in lifecycle events;
// applications register their own events at or above that ceiling.
type Event int

// reservedEventCeiling is the first Event value available to applications.
const reservedEventCeiling = 100

// Built-in lifecycle events, dispatched by the Supervisor itself.
const (
	// EventError is the built-in slot for recovered errors. The
	// supervisor itself never dispatches it: listener panics, fork
	// failures and plugin teardown failures are only logged.
	EventError Event = iota
	// EventSignal fires for every captured OS signal, built-in or not,
	// with the signal number as its sole argument.
	EventSignal
	// EventInit fires once, after all plugins have completed setup and
	// before the application's own setup() runs.
	EventInit
	// EventRun fires at the start of every run-loop iteration, before
	// execute() is called.
	EventRun
	// EventFork fires immediately before a fork attempt, in the parent.
	EventFork
	// EventNewPID fires after -d detaches and the child's pid has been
	// refreshed, with the new pid as its argument.
	EventNewPID
	// EventRestart fires at the start of the restart protocol, before the
	// lock plugin is torn down.
	EventRestart
	// EventShutdown fires once, at normal run-loop exit, before plugin
	// teardown and pid file removal.
	EventShutdown
)

// Listener is a callback registered on the Event Bus.
type Listener func(args ...any)

// Handle is an opaque reference to a single registered listener, returned
// by On and consumed by Off.
type Handle struct {
	event Event
	slot  uint64
}

type listenerEntry struct {
	slot uint64
	fn   Listener
}

// EventBus is a typed-event registration and dispatch substrate. Listener
// panics and errors are caught and logged; they never escape Dispatch and
// never abort dispatch to subsequent listeners.
type EventBus struct {
	mu        sync.Mutex
	listeners map[Event][]listenerEntry
	nextSlot  uint64
	logger    *slog.Logger
}

// NewEventBus constructs an EventBus that logs recovered listener failures
// through logger. A nil logger discards them.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		listeners: make(map[Event][]listenerEntry),
		logger:    logger,
	}
}

// On registers fn at the end of event's listener list and returns a handle
// usable with Off. The first registration for a given event lazily
// initializes its list.
func (b *EventBus) On(event Event, fn Listener) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSlot++
	slot := b.nextSlot
	b.listeners[event] = append(b.listeners[event], listenerEntry{slot: slot, fn: fn})
	return Handle{event: event, slot: slot}
}

// Off removes the listener referenced by handle and returns it. A stale or
// already-removed handle returns nil.
func (b *EventBus) Off(handle Handle) Listener {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.listeners[handle.event]
	for i, e := range entries {
		if e.slot == handle.slot {
			b.listeners[handle.event] = append(entries[:i:i], entries[i+1:]...)
			return e.fn
		}
	}
	return nil
}

// Dispatch invokes every listener registered for event, in registration
// order, passing args to each. A listener that panics is recovered,
// logged at ERROR with the event, slot, message, and call site, and
// dispatch continues with the remaining listeners. Dispatch never returns
// an error; listener failures are leaf-recovered per spec.
func (b *EventBus) Dispatch(event Event, args ...any) {
	b.mu.Lock()
	entries := make([]listenerEntry, len(b.listeners[event]))
	copy(entries, b.listeners[event])
	b.mu.Unlock()

	for _, e := range entries {
		b.invoke(event, e, args)
	}
}

// DispatchOne invokes exactly the listener referenced by handle, if it is
// still registered. It has the same panic-recovery guarantee as Dispatch.
func (b *EventBus) DispatchOne(handle Handle, args ...any) {
	b.mu.Lock()
	var found *listenerEntry
	for _, e := range b.listeners[handle.event] {
		if e.slot == handle.slot {
			found = &e
			break
		}
	}
	b.mu.Unlock()

	if found != nil {
		b.invoke(handle.event, *found, args)
	}
}

func (b *EventBus) invoke(event Event, e listenerEntry, args []any) {
	defer func() {
		if r := recover(); r != nil {
			_, file, line, _ := runtime.Caller(3)
			if b.logger != nil {
				b.logger.Error("event listener panicked",
					slog.Int("event", int(event)),
					slog.Uint64("slot", e.slot),
					slog.String("message", fmt.Sprint(r)),
					slog.String("source", fmt.Sprintf("%s:%d", file, line)),
				)
			}
		}
	}()
	e.fn(args...)
}
