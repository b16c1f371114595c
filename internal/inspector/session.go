// Package inspector composes the console and heap channels into a single
// diagnostics session that one observer attaches to at a time.
package inspector

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// Config configures a Session.
type Config struct {
	Console console.Config
	Heap    heap.Config
}

// Validate checks the channel configuration.
func (cfg Config) Validate() error {
	if err := cfg.Console.Validate(); err != nil {
		return fmt.Errorf("console: %w", err)
	}
	if cfg.Heap.MaxSnapshots < 0 {
		return fmt.Errorf("heap: max snapshots cannot be negative")
	}
	return nil
}

// SessionState is a point-in-time view of the session.
type SessionState struct {
	SessionID         string `json:"sessionId,omitempty"`
	ConsoleEnabled    bool   `json:"consoleEnabled"`
	HeapEnabled       bool   `json:"heapEnabled"`
	HeapTracking      bool   `json:"heapTracking"`
	FrontendConnected bool   `json:"frontendConnected"`
}

// Session is the diagnostics session of one runtime instance.
type Session struct {
	logger  zerolog.Logger
	console *console.Channel
	heap    *heap.Channel

	mu        sync.Mutex
	frontend  protocol.FrontendChannel
	sessionID string

	handlers map[string]handler
}

// NewSession creates a detached session over rt. The console is linked to the
// heap channel so console-triggered snapshots reach the observer.
func NewSession(cfg Config, rt heap.Runtime, clk clock.Clock, logger zerolog.Logger) *Session {
	s := &Session{
		logger:  logger.With().Str("component", "inspector-session").Logger(),
		console: console.NewChannel(cfg.Console, clk, logger),
		heap:    heap.NewChannel(cfg.Heap, rt, clk, logger),
	}
	s.console.SetHeapSnapshotter(s.heap)
	s.handlers = s.registerHandlers()
	return s
}

// Console returns the console channel.
func (s *Session) Console() *console.Channel { return s.console }

// Heap returns the heap channel.
func (s *Session) Heap() *heap.Channel { return s.heap }

// Attach connects an observer to both channels and returns a new session ID.
// Neither channel is enabled implicitly. Only one observer may be attached.
func (s *Session) Attach(frontend protocol.FrontendChannel) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frontend != nil {
		return "", protocol.StateErrorf("an observer is already attached to session %s", s.sessionID)
	}

	s.frontend = frontend
	s.sessionID = uuid.New().String()
	s.console.Attach(frontend)
	s.heap.Attach(frontend)

	s.logger.Info().Str("session_id", s.sessionID).Msg("Observer attached")
	return s.sessionID, nil
}

// Detach disconnects the observer. Heap snapshots and handles are discarded
// and the heap GC subscription is dropped; the console buffer is kept but
// stays silent until a new observer enables it.
func (s *Session) Detach(reason protocol.DisconnectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frontend == nil {
		return
	}

	s.console.Detach()
	s.heap.Detach()

	s.logger.Info().
		Str("session_id", s.sessionID).
		Str("reason", string(reason)).
		Msg("Observer detached")
	s.frontend = nil
	s.sessionID = ""
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	connected, id := s.frontend != nil, s.sessionID
	s.mu.Unlock()

	return SessionState{
		SessionID:         id,
		ConsoleEnabled:    s.console.Enabled(),
		HeapEnabled:       s.heap.Enabled(),
		HeapTracking:      s.heap.Tracking(),
		FrontendConnected: connected,
	}
}

// NotifyLog is the runtime's logging hook. It never fails or blocks on the
// observer.
func (s *Session) NotifyLog(msg protocol.ConsoleMessage) {
	s.console.AddMessage(msg)
}

// Navigated is the runtime's hook for replacing its top-level context. The
// console drops its messages, timers and counters.
func (s *Session) Navigated() {
	s.console.Navigated()
}

// TakeHeapSnapshot is the runtime's console.takeHeapSnapshot hook.
func (s *Session) TakeHeapSnapshot(title string) {
	s.console.TakeHeapSnapshot(title)
}
