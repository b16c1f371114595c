package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Validate checks the configuration and reports every problem at once.
func (c *InspectorConfig) Validate() error {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil || c.Logging.Level == "" {
		add("logging.level", "unknown log level %q", c.Logging.Level)
	}

	if c.Console.Capacity <= 0 {
		add("console.capacity", "capacity must be positive")
	}
	seen := make(map[string]bool)
	for i, ch := range c.Console.Channels {
		field := fmt.Sprintf("console.channels[%d]", i)
		if _, err := protocol.ParseMessageSource(ch.Source); err != nil {
			add(field+".source", "unknown message source %q", ch.Source)
		}
		if _, err := protocol.ParseChannelLevel(ch.Level); err != nil {
			add(field+".level", "level must be 'off', 'basic' or 'verbose'")
		}
		if seen[ch.Source] {
			add(field+".source", "duplicate channel for source %q", ch.Source)
		}
		seen[ch.Source] = true
	}

	if c.Heap.MaxSnapshots < 0 {
		add("heap.max_snapshots", "max snapshots cannot be negative")
	}

	if _, _, err := net.SplitHostPort(c.Server.ListenAddr); err != nil {
		add("server.listen_addr", "invalid listen address %q: %v", c.Server.ListenAddr, err)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		add("server.path", "path must start with '/'")
	}
	if c.Server.EventBuffer <= 0 {
		add("server.event_buffer", "event buffer must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		add("server.write_timeout", "write timeout must be positive")
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
