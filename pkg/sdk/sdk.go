package sdk

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	inspectorcfg "github.com/coral-mesh/coral-inspector/internal/config"
	"github.com/coral-mesh/coral-inspector/internal/constants"
	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/logging"
	"github.com/coral-mesh/coral-inspector/internal/objheap"
)

// SDK is an inspector embedded in an application.
type SDK struct {
	logger      zerolog.Logger
	serviceName string
	heap        *objheap.Heap
	session     *inspector.Session
	server      *frontend.Server

	addr   net.Addr
	path   string
	cancel context.CancelFunc
	done   chan error
}

// Config contains SDK configuration options.
type Config struct {
	// ServiceName is the name of the service (required).
	ServiceName string

	// Session configures the console and heap channels. An unset console
	// config gets the inspector defaults (clear API and repeat coalescing on,
	// media channels off); a partially set one only has Capacity defaulted.
	Session inspector.Config

	// ListenAddr enables the observer endpoint when set. Use port 0 to pick
	// a free port; Addr reports the bound address.
	ListenAddr string

	// Server configures the observer endpoint.
	Server frontend.ServerConfig

	// Logger is the logger instance (optional, defaults to zerolog.Nop()).
	Logger zerolog.Logger
}

// New creates the heap and session and, when ListenAddr is set, starts
// serving observers.
func New(config Config) (*SDK, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}

	logger := config.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("service", config.ServiceName).Logger()

	if isZeroConsole(config.Session.Console) {
		config.Session.Console = inspectorcfg.Default().SessionConfig().Console
	}
	if config.Session.Console.Capacity <= 0 {
		config.Session.Console.Capacity = constants.DefaultConsoleCapacity
	}
	if config.Server.Path == "" {
		config.Server.Path = constants.DefaultEndpointPath
	}
	if err := config.Session.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	h := objheap.New(logger)
	s := &SDK{
		logger:      logger.With().Str("component", "coral-sdk").Logger(),
		serviceName: config.ServiceName,
		heap:        h,
		session:     inspector.NewSession(config.Session, h, clock.NewMonotonic(), logger),
		path:        config.Server.Path,
	}

	if config.ListenAddr != "" {
		if err := s.serve(config.ListenAddr, config.Server, logger); err != nil {
			return nil, fmt.Errorf("failed to start inspector endpoint: %w", err)
		}
	}

	s.logger.Info().
		Bool("endpoint", s.addr != nil).
		Msg("Coral inspector initialized")

	return s, nil
}

func isZeroConsole(c console.Config) bool {
	return c.Capacity == 0 && !c.ClearAPIEnabled && !c.CoalesceRepeats && len(c.Channels) == 0
}

func (s *SDK) serve(listenAddr string, cfg frontend.ServerConfig, logger zerolog.Logger) error {
	s.server = frontend.NewServer(cfg, s.session, logger)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.server.ListenAndServe(ctx, listenAddr, ready)
	}()

	select {
	case addr := <-ready:
		s.addr = addr
		s.cancel = cancel
		s.done = done
		return nil
	case err := <-done:
		cancel()
		return err
	}
}

// Close stops the observer endpoint, detaching any observer.
func (s *SDK) Close() error {
	s.logger.Info().Msg("Shutting down Coral inspector")

	if s.cancel == nil {
		s.session.Detach(protocol.DisconnectTargetDestroyed)
		return nil
	}
	s.cancel()
	err := <-s.done
	s.cancel = nil
	s.session.Detach(protocol.DisconnectTargetDestroyed)
	if err != nil {
		return fmt.Errorf("inspector endpoint: %w", err)
	}
	return nil
}

// ServiceName returns the configured service name.
func (s *SDK) ServiceName() string { return s.serviceName }

// Heap returns the managed heap whose objects the observer can inspect.
func (s *SDK) Heap() *objheap.Heap { return s.heap }

// Session returns the diagnostics session.
func (s *SDK) Session() *inspector.Session { return s.session }

// Addr returns the endpoint address, or an empty string when no endpoint is
// served.
func (s *SDK) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// URL returns the WebSocket URL observers connect to, or an empty string
// when no endpoint is served.
func (s *SDK) URL() string {
	if s.addr == nil {
		return ""
	}
	return fmt.Sprintf("ws://%s%s", s.addr, s.path)
}

// Navigated resets the session console, for hosts that reload their main
// context without restarting the process.
func (s *SDK) Navigated() {
	s.session.Navigated()
}

// HostLogger returns logger with a hook mirroring its lines into the
// session's console.
func (s *SDK) HostLogger(logger zerolog.Logger) zerolog.Logger {
	return logger.Hook(logging.NewConsoleHook(s.session))
}
