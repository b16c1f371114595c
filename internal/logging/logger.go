// Package logging builds the zerolog loggers used across the inspector and
// bridges host log lines into the console channel.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/errors"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// Config contains logger configuration.
type Config struct {
	// Level sets the logging level (trace, debug, info, warn, error).
	Level string
	// Pretty enables human-readable console output with colors.
	Pretty bool
	// Output sets the output writer (defaults to os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: true,
		Output: os.Stderr,
	}
}

// New creates a new zerolog logger with the given configuration. Unknown
// levels fall back to info.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewWithComponent creates a logger with a component field for structured logging.
func NewWithComponent(cfg Config, component string) zerolog.Logger {
	return New(cfg).With().Str("component", component).Logger()
}

// MessageSink receives console messages. *inspector.Session satisfies it.
type MessageSink interface {
	NotifyLog(msg protocol.ConsoleMessage)
}

// ConsoleHook forwards every line written through a logger into a console
// message sink. Attach it only to host loggers: a logger used by the
// inspector itself would feed its own output back into the console.
type ConsoleHook struct {
	Sink   MessageSink
	Source protocol.MessageSource
}

// NewConsoleHook returns a hook reporting lines as source-other messages.
func NewConsoleHook(sink MessageSink) ConsoleHook {
	return ConsoleHook{Sink: sink, Source: protocol.SourceOther}
}

// Run implements zerolog.Hook.
func (h ConsoleHook) Run(_ *zerolog.Event, level zerolog.Level, msg string) {
	if h.Sink == nil || level == zerolog.Disabled {
		return
	}
	source := h.Source
	if source == "" {
		source = protocol.SourceOther
	}
	h.Sink.NotifyLog(protocol.ConsoleMessage{
		Source: source,
		Level:  consoleLevel(level),
		Type:   protocol.TypeLog,
		Text:   msg,
	})
}

func consoleLevel(level zerolog.Level) protocol.MessageLevel {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return protocol.LevelDebug
	case zerolog.InfoLevel:
		return protocol.LevelInfo
	case zerolog.WarnLevel:
		return protocol.LevelWarning
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return protocol.LevelError
	case zerolog.NoLevel, zerolog.Disabled:
		return protocol.LevelLog
	}
	errors.Unreachable("zerolog level %d", level)
	return ""
}
