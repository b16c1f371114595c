package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
)

const (
	defaultEventBuffer  = 1000
	defaultWriteTimeout = 10 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Session is the part of an inspector session the server drives.
type Session interface {
	Attach(frontend protocol.FrontendChannel) (string, error)
	Detach(reason protocol.DisconnectReason)
	Dispatch(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Path is the URL path the observer connects to.
	Path string
	// EventBuffer bounds the outgoing frame queue of a connection. Events that
	// do not fit are dropped.
	EventBuffer int
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
}

// Server accepts one observer connection at a time and bridges it to a
// Session.
type Server struct {
	cfg      ServerConfig
	session  Session
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	active bool

	dropped atomic.Uint64
}

// NewServer creates a server for session.
func NewServer(cfg ServerConfig, session Session, logger zerolog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Server{
		cfg:     cfg,
		session: session,
		logger:  logger.With().Str("component", "frontend-server").Logger(),
	}
}

// Dropped returns how many events were discarded because an observer's queue
// was full.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Handler returns an http.Handler serving the inspector endpoint at the
// configured path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s)
	return mux
}

// ListenAndServe serves on addr until ctx is cancelled. If ready is non-nil it
// receives the bound address once the listener is up.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked observer connections are not closed by Shutdown; tying
		// request contexts to ctx ends them too.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.cfg.Path).Msg("Inspector endpoint listening")
	if ready != nil {
		ready <- ln.Addr()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down inspector endpoint: %w", err)
		}
		return nil
	}
}

// ServeHTTP upgrades the request and serves the observer until it
// disconnects. A second concurrent observer is refused with 409 Conflict.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.claim() {
		http.Error(w, "an observer is already attached", http.StatusConflict)
		return
	}
	defer s.release()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		ws:           ws,
		out:          make(chan []byte, s.cfg.EventBuffer),
		done:         ctx.Done(),
		writeTimeout: s.cfg.WriteTimeout,
		dropped:      &s.dropped,
		logger:       s.logger,
	}

	sessionID, err := s.session.Attach(c)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Session refused observer")
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, protocol.AsError(err).Message)
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	logger := s.logger.With().Str("session_id", sessionID).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Observer connected")

	err = c.serve(ctx, s.session)
	s.session.Detach(protocol.DisconnectFrontendClosed)

	if err != nil && !isNormalClose(err) {
		logger.Warn().Err(err).Msg("Observer connection failed")
		return
	}
	logger.Info().Msg("Observer disconnected")
}

func (s *Server) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return false
	}
	s.active = true
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// conn is one observer connection. It is the session's FrontendChannel.
type conn struct {
	ws           *websocket.Conn
	out          chan []byte
	done         <-chan struct{}
	writeTimeout time.Duration
	dropped      *atomic.Uint64
	logger       zerolog.Logger
}

// SendEvent queues ev without blocking. It drops the event when the queue is
// full or the connection is gone.
func (c *conn) SendEvent(ev protocol.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		c.logger.Error().Err(err).Msg("Dropping unencodable event")
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.out <- data:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			c.logger.Warn().Uint64("dropped", n).Str("method", ev.Method()).Msg("Observer queue full, dropping events")
		}
	}
}

func (c *conn) serve(ctx context.Context, session Session) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readLoop(ctx, session)
	})
	g.Go(func() error {
		return c.writeLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return c.ws.Close()
	})

	return g.Wait()
}

func (c *conn) readLoop(ctx context.Context, session Session) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
			resp := encodeResponse(req.ID, nil, protocol.InvalidParamsf("malformed command frame"))
			if err := c.enqueue(ctx, resp); err != nil {
				return err
			}
			continue
		}

		result, err := session.Dispatch(ctx, req.Method, req.Params)
		if err := c.enqueue(ctx, encodeResponse(req.ID, result, err)); err != nil {
			return err
		}
	}
}

// enqueue queues a response, waiting for room. Responses are never dropped.
func (c *conn) enqueue(ctx context.Context, data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return nil
		case data := <-c.out:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return err
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
