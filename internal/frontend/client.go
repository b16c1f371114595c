package frontend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/retry"
)

// ErrObserverAttached is returned by Dial when the endpoint already serves
// another observer.
var ErrObserverAttached = errors.New("another observer is already attached")

// ErrClosed is returned by Call once the connection has gone away.
var ErrClosed = errors.New("inspector connection closed")

// ClientConfig configures Dial.
type ClientConfig struct {
	// URL is the ws:// endpoint of the inspector.
	URL string
	// Retry controls reconnection while the endpoint is unreachable. A zero
	// MaxRetries uses retry.DialConfig.
	Retry retry.Config
	// EventBuffer bounds the Events channel. Events that do not fit are
	// dropped.
	EventBuffer int
}

// Client is an observer connection to an inspector endpoint.
type Client struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan Response
	err     error

	events  chan Event
	dropped atomic.Uint64
	done    chan struct{}
}

// Dial connects to an inspector endpoint, retrying while it is unreachable.
func Dial(ctx context.Context, cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().Str("component", "frontend-client").Str("url", cfg.URL).Logger()

	policy := cfg.Retry
	if policy.MaxRetries == 0 {
		policy = retry.DialConfig()
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, wait time.Duration) {
			logger.Debug().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("Retrying inspector connection")
		}
	}

	var ws *websocket.Conn
	err := retry.Do(ctx, policy, func() error {
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusConflict {
				return ErrObserverAttached
			}
			return err
		}
		ws = conn
		return nil
	}, func(err error) bool {
		return !errors.Is(err, ErrObserverAttached) && !errors.Is(err, websocket.ErrBadHandshake)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	c := &Client{
		ws:      ws,
		logger:  logger,
		pending: make(map[int64]chan Response),
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	logger.Debug().Msg("Connected to inspector")
	return c, nil
}

// Events delivers event frames in arrival order. It is closed when the
// connection ends.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// DroppedEvents returns how many events were discarded because Events was
// not drained fast enough.
func (c *Client) DroppedEvents() uint64 {
	return c.dropped.Load()
}

// Call sends a command and waits for its response. A command failure is
// returned as a *protocol.Error; result may be nil to discard the result.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		raw = data
	}
	return c.CallRaw(ctx, method, raw, result)
}

// CallRaw is Call with pre-encoded params.
func (c *Client) CallRaw(ctx context.Context, method string, params json.RawMessage, result any) error {
	id := c.nextID.Add(1)
	ch := make(chan Response, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(Request{ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", method, err)
	}

	c.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	err = c.ws.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

// Close sends a close frame and tears down the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	return c.ws.Close()
}

func (c *Client) readLoop() {
	var err error
	defer func() {
		c.mu.Lock()
		if err == nil {
			err = ErrClosed
		}
		c.err = err
		c.mu.Unlock()

		close(c.events)
		close(c.done)
	}()

	for {
		var data []byte
		_, data, err = c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			return
		}

		var f frame
		if jerr := json.Unmarshal(data, &f); jerr != nil {
			c.logger.Warn().Err(jerr).Msg("Ignoring malformed frame")
			continue
		}

		if f.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*f.ID]
			c.mu.Unlock()
			if ok {
				ch <- Response{ID: *f.ID, Result: f.Result, Error: f.Error}
			}
			continue
		}

		select {
		case c.events <- Event{Method: f.Method, Params: f.Params}:
		default:
			c.dropped.Add(1)
		}
	}
}

// DecodeParams decodes an event's params into a typed protocol event.
func DecodeParams[T protocol.Event](ev Event) (T, error) {
	var out T
	if err := json.Unmarshal(ev.Params, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s: %w", ev.Method, err)
	}
	return out, nil
}
