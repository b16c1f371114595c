// Package console implements the console channel of an inspector session:
// a bounded message buffer, named timers and counters, and logging channel
// levels, with live delivery to an attached observer.
package console

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// DefaultCapacity is the number of messages retained when Config.Capacity is unset.
const DefaultCapacity = 100

// HeapSnapshotter captures heap snapshots on behalf of the console.
type HeapSnapshotter interface {
	Snapshot() (float64, protocol.HeapSnapshotData, error)
}

// Config configures a console Channel.
type Config struct {
	// Capacity bounds the message buffer. Older messages are evicted first.
	Capacity int

	// ClearAPIEnabled lets clear requests reach the buffer and the observer.
	// When false, console.clear() calls from the runtime are dropped and
	// clears do not emit messagesCleared.
	ClearAPIEnabled bool

	// CoalesceRepeats folds a message identical to the previous one into a
	// repeat count instead of buffering it again.
	CoalesceRepeats bool

	// Channels lists the logging channels the observer may adjust.
	Channels []protocol.LoggingChannel
}

// Validate reports a logging channel with an unknown source or level, or a
// source listed twice.
func (cfg Config) Validate() error {
	seen := make(map[protocol.MessageSource]bool, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		if _, err := protocol.ParseMessageSource(string(ch.Source)); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if _, err := protocol.ParseChannelLevel(string(ch.Level)); err != nil {
			return fmt.Errorf("channels[%d]: %w", i, err)
		}
		if seen[ch.Source] {
			return fmt.Errorf("channels[%d]: duplicate channel for source %q", i, ch.Source)
		}
		seen[ch.Source] = true
	}
	return nil
}

// TimingResult reports the outcome of a timer query.
type TimingResult struct {
	Label   string
	Elapsed time.Duration
	// Found is false when no timer with Label was running.
	Found bool
}

// Channel is the console channel. Producer-side methods never fail and never
// block on the observer.
type Channel struct {
	logger zerolog.Logger
	clock  clock.Clock

	mu              sync.Mutex
	frontend        protocol.FrontendChannel
	heap            HeapSnapshotter
	messages        *queue.Queue
	capacity        int
	expired         int
	lastFingerprint uint64
	counts          map[string]int
	times           map[string]time.Duration
	channels        []protocol.LoggingChannel
	pending         []protocol.Event
	dispatcher      int64 // goroutine draining pending, 0 when idle
	enabled         bool
	clearAPIEnabled bool
	coalesce        bool
}

// NewChannel creates a disabled, detached console channel. Logging channels
// with an unknown level are ignored.
func NewChannel(cfg Config, clk clock.Clock, logger zerolog.Logger) *Channel {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &Channel{
		logger:          logger.With().Str("component", "console-channel").Logger(),
		clock:           clk,
		messages:        queue.New(),
		capacity:        capacity,
		counts:          make(map[string]int),
		times:           make(map[string]time.Duration),
		clearAPIEnabled: cfg.ClearAPIEnabled,
		coalesce:        cfg.CoalesceRepeats,
	}
	for _, ch := range cfg.Channels {
		if _, err := protocol.ParseChannelLevel(string(ch.Level)); err != nil {
			c.logger.Warn().Err(err).Str("source", string(ch.Source)).Msg("Ignoring logging channel")
			continue
		}
		c.channels = append(c.channels, ch)
	}
	return c
}

// SetHeapSnapshotter links the channel to a heap snapshot source. Passing nil
// removes the link.
func (c *Channel) SetHeapSnapshotter(h HeapSnapshotter) {
	c.mu.Lock()
	c.heap = h
	c.mu.Unlock()
}

// Attach connects an observer. It does not enable the channel.
func (c *Channel) Attach(frontend protocol.FrontendChannel) {
	c.mu.Lock()
	c.frontend = frontend
	c.mu.Unlock()
}

// Detach disconnects the observer and disables the channel. Buffered
// messages are kept.
func (c *Channel) Detach() {
	c.mu.Lock()
	c.frontend = nil
	c.enabled = false
	c.mu.Unlock()
}

// Enable turns on live delivery. On the first call after being disabled it
// reports how many messages were evicted and replays the buffer.
func (c *Channel) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true

	var events []protocol.Event
	if c.expired > 0 {
		events = append(events, protocol.MessageAdded{Message: protocol.ConsoleMessage{
			Source:      protocol.SourceOther,
			Level:       protocol.LevelWarning,
			Type:        protocol.TypeLog,
			Text:        fmt.Sprintf("%d console messages are not shown.", c.expired),
			RepeatCount: 1,
			Timestamp:   clock.Seconds(c.clock.Now()),
		}})
	}
	for i := 0; i < c.messages.Length(); i++ {
		msg := c.messages.Get(i).(*protocol.ConsoleMessage)
		events = append(events, protocol.MessageAdded{Message: *msg})
	}

	c.logger.Debug().Int("replayed", len(events)).Msg("Console enabled")
	c.emitLocked(events...)
}

// Disable stops live delivery. Buffered messages are kept for a later replay.
func (c *Channel) Disable() {
	c.mu.Lock()
	c.enabled = false
	c.mu.Unlock()

	c.logger.Debug().Msg("Console disabled")
}

// Enabled reports whether live delivery is on.
func (c *Channel) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// SetClearAPIEnabled toggles the clear capability.
func (c *Channel) SetClearAPIEnabled(enabled bool) {
	c.mu.Lock()
	c.clearAPIEnabled = enabled
	c.mu.Unlock()
}

// AddMessage buffers msg and, when an observer is listening, delivers it.
// It always succeeds.
func (c *Channel) AddMessage(msg protocol.ConsoleMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = clock.Seconds(c.clock.Now())
	}

	c.mu.Lock()
	if !c.admitsLocked(msg) {
		c.mu.Unlock()
		return
	}
	if msg.Type == protocol.TypeClear {
		if !c.clearAPIEnabled {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.ClearMessages(protocol.ClearReasonConsoleAPI)
		c.mu.Lock()
	}

	var ev protocol.Event
	fp := fingerprint(&msg)
	if c.coalesce && c.messages.Length() > 0 && fp == c.lastFingerprint {
		last := c.messages.Get(-1).(*protocol.ConsoleMessage)
		last.RepeatCount++
		ev = protocol.MessageRepeatCountUpdated{Count: last.RepeatCount, Timestamp: msg.Timestamp}
	} else {
		stored := msg
		if stored.RepeatCount == 0 {
			stored.RepeatCount = 1
		}
		c.messages.Add(&stored)
		c.lastFingerprint = fp
		for c.messages.Length() > c.capacity {
			c.messages.Remove()
			c.expired++
		}
		ev = protocol.MessageAdded{Message: stored}
	}

	c.emitLocked(ev)
}

// ClearMessages empties the buffer and resets the expired count. Clearing an
// empty buffer does nothing.
func (c *Channel) ClearMessages(reason protocol.ClearReason) {
	c.mu.Lock()
	if c.messages.Length() == 0 && c.expired == 0 {
		c.mu.Unlock()
		return
	}
	c.messages = queue.New()
	c.expired = 0

	if !c.clearAPIEnabled {
		c.mu.Unlock()
		return
	}
	c.logger.Debug().Str("reason", string(reason)).Msg("Console messages cleared")
	c.emitLocked(protocol.MessagesCleared{Reason: reason})
}

// Navigated resets the channel for a new top-level document: messages,
// timers and counters are dropped.
func (c *Channel) Navigated() {
	c.ClearMessages(protocol.ClearReasonMainFrameNavigation)

	c.mu.Lock()
	c.times = make(map[string]time.Duration)
	c.counts = make(map[string]int)
	c.mu.Unlock()
}

// Messages returns a copy of the buffered messages, oldest first.
func (c *Channel) Messages() []protocol.ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.ConsoleMessage, c.messages.Length())
	for i := range out {
		out[i] = *c.messages.Get(i).(*protocol.ConsoleMessage)
	}
	return out
}

// ExpiredCount returns how many messages were evicted since the last clear.
func (c *Channel) ExpiredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// StartTiming starts, or restarts, the timer named label.
func (c *Channel) StartTiming(label string) {
	c.mu.Lock()
	c.times[label] = c.clock.Now()
	c.mu.Unlock()
}

// LogTiming reports the elapsed time of a running timer without stopping it.
// An unknown label produces a warning message and Found=false.
func (c *Channel) LogTiming(label string, args []protocol.RemoteObject) TimingResult {
	return c.timing(label, args, false)
}

// StopTiming reports the elapsed time of a timer and removes it.
// An unknown label produces a warning message and Found=false.
func (c *Channel) StopTiming(label string) TimingResult {
	return c.timing(label, nil, true)
}

// Timer returns the start reading of a running timer.
func (c *Channel) Timer(label string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.times[label]
	return start, ok
}

func (c *Channel) timing(label string, args []protocol.RemoteObject, stop bool) TimingResult {
	c.mu.Lock()
	start, ok := c.times[label]
	now := c.clock.Now()
	if ok && stop {
		delete(c.times, label)
	}
	c.mu.Unlock()

	if !ok {
		c.AddMessage(warning(fmt.Sprintf("Timer \"%s\" does not exist", label)))
		return TimingResult{Label: label}
	}

	elapsed := now - start
	c.AddMessage(protocol.ConsoleMessage{
		Source:     protocol.SourceConsoleAPI,
		Level:      protocol.LevelDebug,
		Type:       protocol.TypeTiming,
		Text:       fmt.Sprintf("%s: %.3fms", label, float64(elapsed)/float64(time.Millisecond)),
		Parameters: args,
	})
	return TimingResult{Label: label, Elapsed: elapsed, Found: true}
}

// Count increments the counter named label, creating it at zero first if
// needed, and returns the new value.
func (c *Channel) Count(label string) int {
	c.mu.Lock()
	c.counts[label]++
	n := c.counts[label]
	c.mu.Unlock()

	c.AddMessage(protocol.ConsoleMessage{
		Source: protocol.SourceConsoleAPI,
		Level:  protocol.LevelDebug,
		Type:   protocol.TypeLog,
		Text:   fmt.Sprintf("%s: %d", label, n),
	})
	return n
}

// CountReset sets an existing counter back to zero in place. An unknown label
// produces a warning message and returns false.
func (c *Channel) CountReset(label string) bool {
	c.mu.Lock()
	_, ok := c.counts[label]
	if ok {
		c.counts[label] = 0
	}
	c.mu.Unlock()

	if !ok {
		c.AddMessage(warning(fmt.Sprintf("Counter \"%s\" does not exist", label)))
	}
	return ok
}

// Counter returns the current value of a counter.
func (c *Channel) Counter(label string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.counts[label]
	return n, ok
}

// TakeHeapSnapshot asks the linked heap source for a snapshot and delivers it
// to the observer labelled with title. Without a linked source it does nothing.
func (c *Channel) TakeHeapSnapshot(title string) {
	c.mu.Lock()
	hs := c.heap
	c.mu.Unlock()

	if hs == nil {
		return
	}

	timestamp, data, err := hs.Snapshot()
	if err != nil {
		c.logger.Warn().Err(err).Str("title", title).Msg("Heap snapshot for console failed")
		return
	}

	c.mu.Lock()
	c.emitLocked(protocol.HeapSnapshotTaken{Timestamp: timestamp, SnapshotData: data, Title: title})
}

// LoggingChannels returns the configured logging channels.
func (c *Channel) LoggingChannels() []protocol.LoggingChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.LoggingChannel(nil), c.channels...)
}

// SetLoggingChannelLevel changes the level of a configured logging channel.
func (c *Channel) SetLoggingChannelLevel(source protocol.MessageSource, level protocol.ChannelLevel) error {
	if _, err := protocol.ParseChannelLevel(string(level)); err != nil {
		return protocol.InvalidParamsf("%v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.channels {
		if c.channels[i].Source == source {
			c.channels[i].Level = level
			return nil
		}
	}
	return protocol.InvalidParamsf("no logging channel for source %q", source)
}

// admitsLocked applies the logging channel level for the message source.
func (c *Channel) admitsLocked(msg protocol.ConsoleMessage) bool {
	for _, ch := range c.channels {
		if ch.Source == msg.Source {
			return ch.Level.Admits(msg.Level)
		}
	}
	return true
}

// emitLocked queues events for the observer and, unless another goroutine is
// already delivering, sends the queue in order. It is called with c.mu held
// and returns with it released. Events raised on the delivering goroutine
// from inside SendEvent are dropped, so a log call made during delivery
// cannot recurse.
func (c *Channel) emitLocked(events ...protocol.Event) {
	if !c.enabled || c.frontend == nil || len(events) == 0 {
		c.mu.Unlock()
		return
	}

	self := goid.Get()
	if c.dispatcher == self {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, events...)
	if c.dispatcher != 0 {
		c.mu.Unlock()
		return
	}

	c.dispatcher = self
	for len(c.pending) > 0 && c.enabled && c.frontend != nil {
		ev, frontend := c.pending[0], c.frontend
		c.pending = c.pending[1:]
		c.mu.Unlock()
		frontend.SendEvent(ev)
		c.mu.Lock()
	}
	c.pending = nil
	c.dispatcher = 0
	c.mu.Unlock()
}

func warning(text string) protocol.ConsoleMessage {
	return protocol.ConsoleMessage{
		Source: protocol.SourceConsoleAPI,
		Level:  protocol.LevelWarning,
		Type:   protocol.TypeLog,
		Text:   text,
	}
}
