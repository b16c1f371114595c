package sdk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/coral-inspector/internal/frontend"
	"github.com/coral-mesh/coral-inspector/internal/inspector"
	"github.com/coral-mesh/coral-inspector/internal/inspector/console"
	"github.com/coral-mesh/coral-inspector/internal/inspector/protocol"
	"github.com/coral-mesh/coral-inspector/internal/retry"
	"github.com/coral-mesh/coral-inspector/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "without endpoint",
			config: Config{ServiceName: "test-service"},
		},
		{
			name:   "with endpoint",
			config: Config{ServiceName: "test-service", ListenAddr: "127.0.0.1:0"},
		},
		{
			name:    "missing service name",
			config:  Config{},
			wantErr: true,
		},
		{
			name: "unknown channel level",
			config: Config{ServiceName: "test-service", Session: inspector.Config{Console: console.Config{
				Channels: []protocol.LoggingChannel{{Source: protocol.SourceMedia, Level: "Verbose"}},
			}}},
			wantErr: true,
		},
		{
			name:    "bad listen address",
			config:  Config{ServiceName: "test-service", ListenAddr: "not-an-address"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.Logger = testutil.NewTestLogger(t)
			s, err := New(tt.config)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "test-service", s.ServiceName())
			assert.NoError(t, s.Close())
		})
	}
}

func TestSDK_NoEndpoint(t *testing.T) {
	s, err := New(Config{ServiceName: "svc", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.Addr())
	assert.Empty(t, s.URL())
	assert.NotNil(t, s.Heap())
	assert.False(t, s.Session().State().FrontendConnected)
}

func TestSDK_DefaultConsoleConfig(t *testing.T) {
	s, err := New(Config{ServiceName: "svc", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	c := s.Session().Console()
	assert.Len(t, c.LoggingChannels(), 3)

	msg := protocol.ConsoleMessage{Source: protocol.SourceJavaScript, Level: protocol.LevelLog, Text: "same"}
	c.AddMessage(msg)
	c.AddMessage(msg)
	msgs := c.Messages()
	require.Len(t, msgs, 1, "repeats are coalesced by default")
	assert.Equal(t, 2, msgs[0].RepeatCount)

	c.AddMessage(protocol.ConsoleMessage{Source: protocol.SourceMedia, Level: protocol.LevelLog, Text: "frame"})
	assert.Len(t, c.Messages(), 1, "media channel is off by default")
}

func TestSDK_PartialConsoleConfigKept(t *testing.T) {
	s, err := New(Config{
		ServiceName: "svc",
		Session:     inspector.Config{Console: console.Config{Capacity: 5}},
		Logger:      testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	defer s.Close()

	msg := protocol.ConsoleMessage{Source: protocol.SourceJavaScript, Level: protocol.LevelLog, Text: "same"}
	s.Session().Console().AddMessage(msg)
	s.Session().Console().AddMessage(msg)
	assert.Len(t, s.Session().Console().Messages(), 2)
	assert.Empty(t, s.Session().Console().LoggingChannels())
}

func TestSDK_NavigatedResetsConsole(t *testing.T) {
	s, err := New(Config{ServiceName: "svc", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	host := s.HostLogger(testutil.NewTestLogger(t))
	host.Info().Msg("before reload")
	s.Session().Console().Count("payments")

	s.Navigated()

	assert.Empty(t, s.Session().Console().Messages())
	_, ok := s.Session().Console().Counter("payments")
	assert.False(t, ok)
}

func TestSDK_HostLoggerFeedsConsole(t *testing.T) {
	s, err := New(Config{ServiceName: "svc", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	defer s.Close()

	host := s.HostLogger(testutil.NewTestLogger(t))
	host.Warn().Msg("disk almost full")

	msgs := s.Session().Console().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "disk almost full", msgs[0].Text)
	assert.Equal(t, protocol.LevelWarning, msgs[0].Level)
}

func TestSDK_ObserverRoundTrip(t *testing.T) {
	s, err := New(Config{ServiceName: "svc", ListenAddr: "127.0.0.1:0", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)

	assert.NotEmpty(t, s.Addr())
	assert.Contains(t, s.URL(), "/inspector")

	ctx := testutil.NewTestContext(t)
	c, err := frontend.Dial(ctx, frontend.ClientConfig{
		URL:   s.URL(),
		Retry: retry.Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer c.Close()

	root := s.Heap().Allocate("Cache", 64)
	s.Heap().AddRoot("cache", root)

	require.NoError(t, c.Call(ctx, "Heap.enable", nil, nil))
	var state inspector.SessionState
	require.NoError(t, c.Call(ctx, "Inspector.getState", nil, &state))
	assert.True(t, state.HeapEnabled)
	assert.True(t, state.FrontendConnected)

	require.NoError(t, s.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("observer connection not closed on shutdown")
	}
	assert.False(t, s.Session().State().FrontendConnected)
}
