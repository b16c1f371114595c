package frontend

import (
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/objheap"
	"github.com/coral-mesh/coral-inspector/internal/retry"
	"github.com/coral-mesh/coral-inspector/internal/testutil"
)

type endpoint struct {
	session *inspector.Session
	heap    *objheap.Heap
	server  *Server
	url     string
}

func newEndpoint(t *testing.T) *endpoint {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	h := objheap.New(logger)
	session := inspector.NewSession(inspector.Config{
		Console: console.Config{Capacity: 50, ClearAPIEnabled: true},
	}, h, clock.NewMonotonic(), logger)

	srv := NewServer(ServerConfig{Path: "/inspector"}, session, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &endpoint{
		session: session,
		heap:    h,
		server:  srv,
		url:     "ws" + strings.TrimPrefix(ts.URL, "http") + "/inspector",
	}
}

func (e *endpoint) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(testutil.NewTestContext(t), ClientConfig{
		URL:   e.url,
		Retry: retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for event")
		return Event{}
	}
}

func TestCallAndEvents(t *testing.T) {
	e := newEndpoint(t)
	c := e.dial(t)
	ctx := testutil.NewTestContext(t)

	require.NoError(t, c.Call(ctx, "Console.enable", nil, nil))
	e.session.NotifyLog(protocol.ConsoleMessage{
		Source: protocol.SourceJavaScript,
		Level:  protocol.LevelInfo,
		Type:   protocol.TypeLog,
		Text:   "hello observer",
	})

	ev := nextEvent(t, c)
	assert.Equal(t, "Console.messageAdded", ev.Method)
	added, err := DecodeParams[protocol.MessageAdded](ev)
	require.NoError(t, err)
	assert.Equal(t, "hello observer", added.Message.Text)

	var state inspector.SessionState
	require.NoError(t, c.Call(ctx, "Inspector.getState", nil, &state))
	assert.True(t, state.ConsoleEnabled)
	assert.True(t, state.FrontendConnected)
}

func TestCall_TypedErrors(t *testing.T) {
	e := newEndpoint(t)
	c := e.dial(t)
	ctx := testutil.NewTestContext(t)

	err := c.Call(ctx, "Heap.getPreview", map[string]any{"heapObjectId": 42}, nil)
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeLookupError))

	err = c.Call(ctx, "Heap.startTracking", nil, nil)
	assert.True(t, protocol.IsCode(err, protocol.CodeStateError))

	err = c.Call(ctx, "Nope.nothing", nil, nil)
	assert.True(t, protocol.IsCode(err, protocol.CodeMethodNotFound))
}

func TestSnapshotOverTheWire(t *testing.T) {
	e := newEndpoint(t)
	e.heap.AddRoot("window", e.heap.Allocate("Window", 64))
	c := e.dial(t)
	ctx := testutil.NewTestContext(t)

	var snap inspector.SnapshotResult
	require.NoError(t, c.Call(ctx, "Heap.snapshot", nil, &snap))
	assert.Contains(t, string(snap.SnapshotData), "Window")
}

func TestSecondObserverRefused(t *testing.T) {
	e := newEndpoint(t)
	e.dial(t)

	_, err := Dial(testutil.NewTestContext(t), ClientConfig{
		URL:   e.url,
		Retry: retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond},
	}, testutil.NewTestLogger(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrObserverAttached)
}

func TestDisconnectDetachesSession(t *testing.T) {
	e := newEndpoint(t)
	c := e.dial(t)
	ctx := testutil.NewTestContext(t)

	e.heap.AddRoot("window", e.heap.Allocate("Window", 64))
	require.NoError(t, c.Call(ctx, "Heap.enable", nil, nil))
	require.NoError(t, c.Call(ctx, "Heap.snapshot", nil, nil))
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		return !e.session.State().FrontendConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, e.session.State().HeapEnabled)
	assert.Equal(t, 0, e.session.Heap().Snapshots())

	// The slot is free again once the old connection has been released.
	assert.Eventually(t, func() bool {
		c, err := Dial(ctx, ClientConfig{
			URL:   e.url,
			Retry: retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		}, testutil.NewTestLogger(t))
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMalformedFrame(t *testing.T) {
	e := newEndpoint(t)

	ws, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(data, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidParams, resp.Error.Code)
}

func TestConnSendEvent_DropsWhenFull(t *testing.T) {
	var dropped atomic.Uint64
	c := &conn{
		out:     make(chan []byte, 1),
		done:    make(chan struct{}),
		dropped: &dropped,
		logger:  testutil.NewTestLogger(t),
	}

	c.SendEvent(protocol.MessagesCleared{Reason: protocol.ClearReasonFrontend})
	c.SendEvent(protocol.MessagesCleared{Reason: protocol.ClearReasonFrontend})
	c.SendEvent(protocol.MessagesCleared{Reason: protocol.ClearReasonFrontend})

	assert.Len(t, c.out, 1)
	assert.Equal(t, uint64(2), dropped.Load())

	var ev Event
	require.NoError(t, json.Unmarshal(<-c.out, &ev))
	assert.Equal(t, "Console.messagesCleared", ev.Method)
	assert.JSONEq(t, `{"reason":"frontend"}`, string(ev.Params))
}

func TestEncodeEvent_GarbageCollectedNaNStart(t *testing.T) {
	data, err := encodeEvent(protocol.GarbageCollected{Collection: protocol.GarbageCollection{
		Type:      protocol.CollectionFull,
		StartTime: math.NaN(),
		EndTime:   2.5,
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"Heap.garbageCollected","params":{"collection":{"type":"full","startTime":null,"endTime":2.5}}}`, string(data))
}
