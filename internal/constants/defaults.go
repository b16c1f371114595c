// Package constants defines shared configuration constants and defaults.
package constants

import "time"

// Files and environment.
const (
	// ConfigFile is the default configuration file name.
	ConfigFile = "inspector.yaml"

	// ConfigEnvVar names a configuration file that overrides --config.
	ConfigEnvVar = "CORAL_INSPECTOR_CONFIG"
)

// Endpoint defaults.
const (
	// DefaultListenAddr is where the inspector endpoint listens. Loopback only;
	// the endpoint has no authentication.
	DefaultListenAddr = "127.0.0.1:9229"

	// DefaultEndpointPath is the WebSocket path of the inspector endpoint.
	DefaultEndpointPath = "/inspector"

	// DefaultEventBuffer bounds the per-observer outgoing event queue.
	DefaultEventBuffer = 1000

	// DefaultWriteTimeout bounds a single frame write to the observer.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultCallTimeout bounds a single CLI command round trip.
	DefaultCallTimeout = 30 * time.Second
)

// Console defaults.
const (
	// DefaultConsoleCapacity is the number of console messages retained.
	DefaultConsoleCapacity = 100
)

// Demo workload defaults.
const (
	// DefaultWorkloadInterval is the tick of the demo workload run by serve.
	DefaultWorkloadInterval = 500 * time.Millisecond

	// DefaultFullCollectionEvery makes every nth collection of the demo
	// workload a full one; the others are eden collections.
	DefaultFullCollectionEvery = 5
)
