package config

import (
	"github.com/coral-mesh/coral-inspector/internal/constants"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// Default returns the configuration used when no file is present.
func Default() *InspectorConfig {
	return &InspectorConfig{
		Logging: LoggingConfig{
			Level: "info",
		},
		Console: ConsoleConfig{
			Capacity:        constants.DefaultConsoleCapacity,
			ClearAPIEnabled: true,
			CoalesceRepeats: true,
			Channels: []ChannelConfig{
				{Source: string(protocol.SourceMedia), Level: string(protocol.ChannelOff)},
				{Source: string(protocol.SourceMediaSource), Level: string(protocol.ChannelOff)},
				{Source: string(protocol.SourceWebRTC), Level: string(protocol.ChannelOff)},
			},
		},
		Server: ServerConfig{
			ListenAddr:   constants.DefaultListenAddr,
			Path:         constants.DefaultEndpointPath,
			EventBuffer:  constants.DefaultEventBuffer,
			WriteTimeout: constants.DefaultWriteTimeout,
		},
	}
}
