package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		level    string
		logged   []string
		filtered []string
	}{
		{level: "trace", logged: []string{"trace message", "debug message", "info message"}},
		{level: "debug", logged: []string{"debug message", "info message"}, filtered: []string{"trace message"}},
		{level: "info", logged: []string{"info message", "warn message"}, filtered: []string{"trace message", "debug message"}},
		{level: "warn", logged: []string{"warn message", "error message"}, filtered: []string{"info message"}},
		{level: "error", logged: []string{"error message"}, filtered: []string{"warn message"}},
		{level: "bogus", logged: []string{"info message"}, filtered: []string{"debug message"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")
			logger.Error().Msg("error message")

			out := buf.String()
			for _, m := range tt.logged {
				assert.Contains(t, out, m)
			}
			for _, m := range tt.filtered {
				assert.NotContains(t, out, m)
			}
		})
	}
}

func TestNew_LevelHierarchy(t *testing.T) {
	levels := map[string]zerolog.Level{
		"trace": zerolog.TraceLevel,
		"debug": zerolog.DebugLevel,
		"info":  zerolog.InfoLevel,
		"warn":  zerolog.WarnLevel,
		"error": zerolog.ErrorLevel,
	}
	for name, want := range levels {
		assert.Equal(t, want, New(Config{Level: name, Output: &bytes.Buffer{}}).GetLevel(), name)
	}
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})
	logger.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, strings.HasPrefix(buf.String(), "{"))
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "objheap")
	logger.Info().Msg("started")
	assert.Contains(t, buf.String(), `"component":"objheap"`)
}

type sink struct {
	mu   sync.Mutex
	msgs []protocol.ConsoleMessage
}

func (s *sink) NotifyLog(msg protocol.ConsoleMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestConsoleHook_ForwardsLines(t *testing.T) {
	s := &sink{}
	logger := New(Config{Level: "trace", Output: &bytes.Buffer{}}).Hook(NewConsoleHook(s))

	logger.Trace().Msg("t")
	logger.Debug().Msg("d")
	logger.Info().Msg("i")
	logger.Warn().Msg("w")
	logger.Error().Msg("e")
	logger.Log().Msg("plain")

	require.Len(t, s.msgs, 6)
	want := []protocol.MessageLevel{
		protocol.LevelDebug, protocol.LevelDebug, protocol.LevelInfo,
		protocol.LevelWarning, protocol.LevelError, protocol.LevelLog,
	}
	for i, msg := range s.msgs {
		assert.Equal(t, want[i], msg.Level, msg.Text)
		assert.Equal(t, protocol.SourceOther, msg.Source)
		assert.Equal(t, protocol.TypeLog, msg.Type)
	}
	assert.Equal(t, "plain", s.msgs[5].Text)
}

func TestConsoleHook_RespectsLoggerLevel(t *testing.T) {
	s := &sink{}
	logger := New(Config{Level: "warn", Output: &bytes.Buffer{}}).Hook(ConsoleHook{Sink: s, Source: protocol.SourceNetwork})

	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")

	require.Len(t, s.msgs, 1)
	assert.Equal(t, "loud", s.msgs[0].Text)
	assert.Equal(t, protocol.SourceNetwork, s.msgs[0].Source)
}

func TestConsoleHook_NilSink(t *testing.T) {
	logger := New(Config{Level: "info", Output: &bytes.Buffer{}}).Hook(ConsoleHook{})
	assert.NotPanics(t, func() { logger.Info().Msg("dropped") })
}
