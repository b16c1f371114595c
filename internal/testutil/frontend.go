package testutil

import (
	"sync"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// Recorder is a protocol.FrontendChannel that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event

	// OnEvent, when set, runs synchronously for each event after it is recorded.
	OnEvent func(protocol.Event)
}

// SendEvent records ev.
func (r *Recorder) SendEvent(ev protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.OnEvent
	r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

// Methods returns the wire names of the recorded events in order.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	methods := make([]string, len(r.events))
	for i, ev := range r.events {
		methods[i] = ev.Method()
	}
	return methods
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// EventsOf returns the recorded events of type T.
func EventsOf[T protocol.Event](r *Recorder) []T {
	var out []T
	for _, ev := range r.Events() {
		if typed, ok := ev.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}
