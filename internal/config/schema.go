// Package config loads the inspector configuration from YAML with environment
// variable overrides.
package config

import (
	"time"

	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// InspectorConfig is the root configuration.
type InspectorConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Console ConsoleConfig `yaml:"console"`
	Heap    HeapConfig    `yaml:"heap"`
	Server  ServerConfig  `yaml:"server"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"CORAL_INSPECTOR_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"CORAL_INSPECTOR_LOG_PRETTY"`
}

// ConsoleConfig configures the console channel.
type ConsoleConfig struct {
	Capacity        int  `yaml:"capacity" env:"CORAL_INSPECTOR_CONSOLE_CAPACITY"`
	ClearAPIEnabled bool `yaml:"clear_api_enabled" env:"CORAL_INSPECTOR_CONSOLE_CLEAR_API"`
	CoalesceRepeats bool `yaml:"coalesce_repeats" env:"CORAL_INSPECTOR_CONSOLE_COALESCE"`

	// Channels are the logging channels the observer can adjust.
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig is one logging channel.
type ChannelConfig struct {
	Source string `yaml:"source"`
	Level  string `yaml:"level"`
}

// HeapConfig configures the heap channel.
type HeapConfig struct {
	// MaxSnapshots bounds retained snapshots; 0 keeps all since the last clear.
	MaxSnapshots int `yaml:"max_snapshots" env:"CORAL_INSPECTOR_HEAP_MAX_SNAPSHOTS"`
}

// ServerConfig configures the observer endpoint.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr" env:"CORAL_INSPECTOR_LISTEN_ADDR"`
	Path         string        `yaml:"path" env:"CORAL_INSPECTOR_PATH"`
	EventBuffer  int           `yaml:"event_buffer" env:"CORAL_INSPECTOR_EVENT_BUFFER"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"CORAL_INSPECTOR_WRITE_TIMEOUT"`
}

// SessionConfig converts the console and heap sections into a session
// configuration. The configuration must have passed Validate.
func (c *InspectorConfig) SessionConfig() inspector.Config {
	channels := make([]protocol.LoggingChannel, 0, len(c.Console.Channels))
	for _, ch := range c.Console.Channels {
		channels = append(channels, protocol.LoggingChannel{
			Source: protocol.MessageSource(ch.Source),
			Level:  protocol.ChannelLevel(ch.Level),
		})
	}

	return inspector.Config{
		Console: console.Config{
			Capacity:        c.Console.Capacity,
			ClearAPIEnabled: c.Console.ClearAPIEnabled,
			CoalesceRepeats: c.Console.CoalesceRepeats,
			Channels:        channels,
		},
		Heap: heap.Config{
			MaxSnapshots: c.Heap.MaxSnapshots,
		},
	}
}
