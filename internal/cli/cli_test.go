package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-inspector/internal/clock"
	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/heap"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/logging"
	"github.com/coral-mesh/coral-inspector/internal/objheap"
	"github.com/coral-mesh/coral-inspector/internal/testutil"
	"github.com/coral-mesh/coral-inspector/pkg/version"
)

func newTestSession(t *testing.T) (*inspector.Session, *objheap.Heap) {
	t.Helper()
	logger := testutil.NewTestLogger(t)
	h := objheap.New(logger)
	s := inspector.NewSession(inspector.Config{
		Console: console.Config{Capacity: 100, ClearAPIEnabled: true},
	}, h, clock.NewMonotonic(), logger)
	return s, h
}

func serveSession(t *testing.T, s *inspector.Session) string {
	t.Helper()
	srv := frontend.NewServer(frontend.ServerConfig{Path: "/inspector"}, s, testutil.NewTestLogger(t))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/inspector"
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestParseCommandLine(t *testing.T) {
	tests := []struct {
		line   string
		method string
		params string
		errMsg string
	}{
		{line: "Heap.enable", method: "Heap.enable"},
		{line: "  Heap.gc   ", method: "Heap.gc"},
		{line: `Heap.getPreview {"heapObjectId": 3}`, method: "Heap.getPreview", params: `{"heapObjectId": 3}`},
		{line: "enable", errMsg: "expected Domain.method"},
		{line: ".enable", errMsg: "expected Domain.method"},
		{line: "Heap.getPreview 3", errMsg: "JSON object"},
		{line: `Heap.getPreview {"heapObjectId":`, errMsg: "JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			method, params, err := parseCommandLine(tt.line)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.params, string(params))
		})
	}
}

func TestHandleMetaCommand(t *testing.T) {
	var out bytes.Buffer
	assert.ErrorIs(t, handleMetaCommand(".exit", nil, &out), errExit)
	assert.ErrorIs(t, handleMetaCommand(".quit now", nil, &out), errExit)

	require.NoError(t, handleMetaCommand(".methods", []string{"Heap.gc", "Heap.enable"}, &out))
	assert.Contains(t, out.String(), "Heap.gc")

	require.NoError(t, handleMetaCommand(".help", nil, &out))
	assert.Contains(t, out.String(), ".methods")

	assert.Error(t, handleMetaCommand(".tables", nil, &out))
}

func event(t *testing.T, ev protocol.Event) frontend.Event {
	t.Helper()
	params, err := json.Marshal(ev)
	require.NoError(t, err)
	return frontend.Event{Method: ev.Method(), Params: params}
}

func TestTextFormatter(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	h := objheap.New(logger)
	h.AddRoot("a", h.Allocate("Thing", 100))
	hc := heap.NewChannel(heap.Config{}, h, clock.NewManual(0), logger)
	_, data, err := hc.Snapshot()
	require.NoError(t, err)

	tests := []struct {
		name string
		ev   protocol.Event
		want string
	}{
		{
			name: "message",
			ev: protocol.MessageAdded{Message: protocol.ConsoleMessage{
				Source: protocol.SourceNetwork, Level: protocol.LevelError, Text: "boom",
				URL: "app.js", Line: 3, Column: 7, RepeatCount: 2,
			}},
			want: "[error] network: boom (app.js:3:7) x2",
		},
		{name: "repeat", ev: protocol.MessageRepeatCountUpdated{Count: 4}, want: "repeated 4 times"},
		{name: "cleared", ev: protocol.MessagesCleared{Reason: protocol.ClearReasonFrontend}, want: "console cleared (frontend)"},
		{
			name: "gc",
			ev: protocol.GarbageCollected{Collection: protocol.GarbageCollection{
				Type: protocol.CollectionFull, StartTime: 1.0, EndTime: 1.0125,
			}},
			want: "gc full 12.500ms",
		},
		{
			name: "gc without start",
			ev: protocol.GarbageCollected{Collection: protocol.GarbageCollection{
				Type: protocol.CollectionPartial, StartTime: math.NaN(), EndTime: 2,
			}},
			want: "start not observed",
		},
		{name: "snapshot", ev: protocol.HeapSnapshotTaken{SnapshotData: data, Title: "t1"}, want: `heap snapshot "t1": 1 objects, 100 bytes`},
		{name: "tracking", ev: protocol.TrackingComplete{SnapshotData: data}, want: "tracking complete: 1 objects"},
	}

	f := &TextFormatter{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := f.FormatEvent(event(t, tt.ev))
			require.NoError(t, err)
			assert.Contains(t, line, tt.want)
		})
	}

	line, err := f.FormatEvent(frontend.Event{Method: "Custom.thing", Params: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	assert.Contains(t, line, `{"a":1}`)

	res, err := f.FormatResult("Heap.enable", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, res, "ok")

	res, err = f.FormatResult("Inspector.getState", json.RawMessage(`{"heapEnabled":true}`))
	require.NoError(t, err)
	assert.Contains(t, res, `"heapEnabled": true`)
}

func TestJSONFormatter(t *testing.T) {
	f := NewFormatter(FormatJSON)

	line, err := f.FormatEvent(event(t, protocol.MessagesCleared{Reason: protocol.ClearReasonConsoleAPI}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"Console.messagesCleared","params":{"reason":"console-api"}}`, line)

	line, err = f.FormatResult("Heap.gc", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"Heap.gc","result":{}}`, line)
}

func TestParseOutputFormat(t *testing.T) {
	_, err := parseOutputFormat("csv")
	assert.Error(t, err)
	f, err := parseOutputFormat("json")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestWorkload_Step(t *testing.T) {
	s, h := newTestSession(t)
	host := logging.New(logging.Config{Level: "info", Output: &bytes.Buffer{}}).Hook(logging.NewConsoleHook(s))
	w := NewWorkload(h, s, host, 5)

	stats := w.Step()
	assert.Equal(t, heap.ScopeEden, stats.Scope)
	assert.Equal(t, 3, stats.Freed, "temporary buffers are freed by an eden collection")

	n, ok := s.Console().Counter("requests")
	require.True(t, ok)
	assert.Equal(t, 1, n)

	var texts []string
	for _, m := range s.Console().Messages() {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "requests: 1")
	assert.Contains(t, texts, "handled GET /items/1 (#1)")
	_, running := s.Console().Timer("request")
	assert.False(t, running)

	for i := 2; i <= 10; i++ {
		stats = w.Step()
	}
	assert.Equal(t, heap.ScopeFull, stats.Scope)
	assert.Greater(t, stats.Freed, 3, "requests evicted from the cache are freed by a full collection")
	assert.Contains(t, s.Console().Messages()[len(s.Console().Messages())-1].Text, "request: ")
}

func TestWorkload_HeapSnapshotEvent(t *testing.T) {
	s, h := newTestSession(t)
	rec := &testutil.Recorder{}
	_, err := s.Attach(rec)
	require.NoError(t, err)
	s.Console().Enable()

	w := NewWorkload(h, s, testutil.NewTestLogger(t), 1)
	for i := 0; i < 4; i++ {
		w.Step()
	}

	snaps := testutil.EventsOf[protocol.HeapSnapshotTaken](rec)
	require.Len(t, snaps, 1)
	assert.Equal(t, "after request 4", snaps[0].Title)
}

func TestWorkload_ReloadResetsConsole(t *testing.T) {
	s, h := newTestSession(t)
	rec := &testutil.Recorder{}
	_, err := s.Attach(rec)
	require.NoError(t, err)
	s.Console().Enable()

	host := logging.New(logging.Config{Level: "info", Output: &bytes.Buffer{}}).Hook(logging.NewConsoleHook(s))
	w := NewWorkload(h, s, host, 1)
	for i := 0; i < snapshotEvery*reloadEvery; i++ {
		w.Step()
	}

	cleared := testutil.EventsOf[protocol.MessagesCleared](rec)
	require.Len(t, cleared, 1)
	assert.Equal(t, protocol.ClearReasonMainFrameNavigation, cleared[0].Reason)

	_, ok := s.Console().Counter("requests")
	assert.False(t, ok)
	msgs := s.Console().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "reloaded after 16 requests", msgs[0].Text)

	w.Step()
	n, ok := s.Console().Counter("requests")
	require.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestWorkload_RunStopsOnCancel(t *testing.T) {
	s, h := newTestSession(t)
	w := NewWorkload(h, s, testutil.NewTestLogger(t), 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, time.Millisecond) }()

	assert.Eventually(t, func() bool {
		n, _ := s.Console().Counter("requests")
		return n >= 2
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workload did not stop")
	}
}

func TestVersionCommand(t *testing.T) {
	ctx := testutil.NewTestContext(t)

	out, err := runCLI(t, ctx, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Coral inspector version "+version.Version)

	out, err = runCLI(t, ctx, "version", "--format", "json")
	require.NoError(t, err)
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Get(), info)
}

func TestSnapshotCommand(t *testing.T) {
	s, h := newTestSession(t)
	root := h.Allocate("Cache", 300)
	h.SetField(root, "entry", h.Allocate("Entry", 40))
	h.AddRoot("cache", root)
	url := serveSession(t, s)
	ctx := testutil.NewTestContext(t)

	out, err := runCLI(t, ctx, "snapshot", "--url", url)
	require.NoError(t, err)
	snap, err := heap.Decode(protocol.HeapSnapshotData(out))
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 2)

	assert.Eventually(t, func() bool { return !s.State().FrontendConnected }, 5*time.Second, 10*time.Millisecond)

	path := filepath.Join(t.TempDir(), "heap.pb.gz")
	_, err = runCLI(t, ctx, "snapshot", "--url", url, "--format", "pprof", "--out", path)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	p, err := profile.Parse(f)
	require.NoError(t, err)
	assert.Len(t, p.Sample, 2)

	_, err = runCLI(t, ctx, "snapshot", "--url", url, "--format", "svg")
	assert.Error(t, err)
}

func TestAttachCommand_StreamsReplayedMessages(t *testing.T) {
	s, _ := newTestSession(t)
	s.NotifyLog(protocol.ConsoleMessage{Source: protocol.SourceJavaScript, Level: protocol.LevelLog, Text: "before attach"})
	url := serveSession(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out, err := runCLI(t, ctx, "attach", "--url", url, "--format", "json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	var ev frontend.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, "Console.messageAdded", ev.Method)
	assert.Contains(t, string(ev.Params), "before attach")
}

func TestServeCommand_PrintConfig(t *testing.T) {
	t.Setenv("CORAL_INSPECTOR_CONFIG", "")
	out, err := runCLI(t, testutil.NewTestContext(t), "serve", "--listen", "127.0.0.1:0", "--print-config")
	require.NoError(t, err)
	assert.Contains(t, out, "listen_addr: 127.0.0.1:0")
	assert.Contains(t, out, "capacity: 100")
}
