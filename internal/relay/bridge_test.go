package relay_test

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/session-mirror/internal/config"
	"github.com/compresr/session-mirror/internal/relay"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type statusLog struct {
	mu     sync.Mutex
	events []bool
}

func (s *statusLog) record(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, connected)
}

func (s *statusLog) Events() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.events...)
}

type bridgeFixture struct {
	bridge *relay.Bridge
	dialer *fakeDialer
	host   *fakeHost
	status *statusLog
}

func testBridgeConfig() config.BridgeConfig {
	return config.BridgeConfig{
		QueueCapacity:     200,
		HeartbeatInterval: time.Hour,
		InFlightTTL:       time.Minute,
		Backoff:           config.BackoffConfig{Base: 20 * time.Millisecond, Max: 200 * time.Millisecond},
		ShutdownGrace:     20 * time.Millisecond,
		DialTimeout:       time.Second,
		WriteTimeout:      time.Second,
	}
}

var testRelay = config.StaticResolver{URL: "ws://relay.test/ws", Token: "tok", SessionKey: "team"}

func newFixture(t *testing.T, cfg config.BridgeConfig, resolver config.Resolver) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{dialer: &fakeDialer{}, host: newFakeHost(), status: &statusLog{}}
	b, err := relay.New(relay.Options{
		Resolver: resolver,
		Host:     f.host,
		Config:   cfg,
		Dialer:   f.dialer,
		OnStatus: f.status.record,
	})
	require.NoError(t, err)
	f.bridge = b
	t.Cleanup(func() { _ = b.Close() })
	return f
}

func (f *bridgeFixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.bridge.Start(context.Background()))
}

func (f *bridgeFixture) waitConnected(t *testing.T) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.bridge.State() == relay.StateConnected
	}, waitFor, tick)
	return f.dialer.Last()
}

func frameTypes(frames []string) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = gjson.Get(f, "type").String()
	}
	return out
}

// =============================================================================
// CONNECTING
// =============================================================================

func TestBridge_ConnectsWithDialURL(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	u, err := url.Parse(conn.url)
	require.NoError(t, err)
	assert.Equal(t, "relay.test", u.Host)
	assert.Equal(t, "bridge", u.Query().Get("role"))
	assert.Equal(t, "team", u.Query().Get("session"))
	assert.Equal(t, "tok", u.Query().Get("token"))

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true}, f.status.Events())
	}, waitFor, tick)
}

func TestBridge_RunTwice(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	assert.ErrorIs(t, f.bridge.Start(context.Background()), relay.ErrBridgeRunning)
	assert.ErrorIs(t, f.bridge.Run(context.Background()), relay.ErrBridgeRunning)
}

func TestBridge_NotConfiguredStaysIdle(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), config.StaticResolver{})
	f.start(t)

	f.bridge.Emit(relay.EventInput, map[string]any{"text": "hi"})
	assert.Equal(t, 1, f.bridge.QueueLen())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.dialer.Dials())
	assert.Equal(t, relay.StateDisconnected, f.bridge.State())
	assert.Zero(t, f.bridge.Attempts())
}

func TestBridge_ContextCancelStops(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.bridge.Start(ctx))
	conn := f.waitConnected(t)

	cancel()
	select {
	case <-f.bridge.Done():
	case <-time.After(waitFor):
		t.Fatal("bridge did not stop")
	}
	assert.Eventually(t, conn.Closed, waitFor, tick)
}

// =============================================================================
// EMISSION AND QUEUEING
// =============================================================================

func TestBridge_EmitWhileConnected(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.bridge.SetSessionID("sess-1")
	f.start(t)
	conn := f.waitConnected(t)

	f.bridge.Emit(relay.EventToolCall, map[string]any{"toolName": "bash"})

	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, waitFor, tick)
	frame := conn.Written()[0]
	assert.Equal(t, "tool_call", gjson.Get(frame, "type").String())
	assert.Equal(t, "sess-1", gjson.Get(frame, "sessionId").String())
	assert.Equal(t, "bash", gjson.Get(frame, "payload.toolName").String())
	assert.Greater(t, gjson.Get(frame, "timestamp").Int(), int64(0))
	assert.Equal(t, int64(1), f.bridge.Stats()["events_sent"])
}

func TestBridge_QueuedEventsFlushInOrder(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.dialer.SetRefuse(true)
	f.start(t)

	f.bridge.Emit(relay.EventSessionStart, nil)
	f.bridge.Emit(relay.EventTurnStart, map[string]any{"turnIndex": 0})
	f.bridge.Emit(relay.EventTurnEnd, map[string]any{"turnIndex": 0})
	assert.Equal(t, 3, f.bridge.QueueLen())

	require.Eventually(t, func() bool { return f.bridge.Attempts() >= 2 }, waitFor, tick)

	f.dialer.SetRefuse(false)
	conn := f.waitConnected(t)

	require.Eventually(t, func() bool { return len(conn.Written()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"session_start", "turn_start", "turn_end"}, frameTypes(conn.Written()))
	assert.Zero(t, f.bridge.QueueLen())
	assert.Zero(t, f.bridge.Attempts(), "attempts reset on connect")
}

func TestBridge_QueueCapDropsNewest(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.QueueCapacity = 5
	f := newFixture(t, cfg, testRelay)
	f.dialer.SetRefuse(true)
	f.start(t)

	for i := 0; i < 8; i++ {
		f.bridge.Emit(relay.EventInput, map[string]any{"i": i})
	}
	assert.Equal(t, 5, f.bridge.QueueLen())
	assert.Equal(t, int64(3), f.bridge.Stats()["events_dropped"])

	f.dialer.SetRefuse(false)
	conn := f.waitConnected(t)
	require.Eventually(t, func() bool { return len(conn.Written()) == 5 }, waitFor, tick)
	for i, frame := range conn.Written() {
		assert.Equal(t, int64(i), gjson.Get(frame, "payload.i").Int())
	}
}

func TestBridge_WriteFailureRequeues(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	first := f.waitConnected(t)

	first.SetWriteErr(errors.New("broken pipe"))
	f.bridge.Emit(relay.EventInput, map[string]any{"text": "keep me"})

	require.Eventually(t, func() bool {
		last := f.dialer.Last()
		return last != first && len(last.Written()) == 1
	}, waitFor, tick)
	assert.True(t, first.Closed())
	assert.Equal(t, "keep me", gjson.Get(f.dialer.Last().Written()[0], "payload.text").String())
}

// =============================================================================
// RECONNECTING
// =============================================================================

func TestBridge_ReconnectsAfterRemoteClose(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	first := f.waitConnected(t)

	closedAt := time.Now()
	first.RemoteClose()

	require.Eventually(t, func() bool {
		return f.dialer.Dials() == 2 && f.bridge.State() == relay.StateConnected
	}, waitFor, tick)

	gap := f.dialer.DialTimes()[1].Sub(closedAt)
	assert.GreaterOrEqual(t, gap, 15*time.Millisecond, "waits the backoff delay")
	assert.Less(t, gap, time.Second)

	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]bool{true, false, true}, f.status.Events())
	}, waitFor, tick)
	assert.Equal(t, int64(2), f.bridge.Stats()["connects"])
}

func TestBridge_BackoffGrowsWhileRefused(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.Backoff = config.BackoffConfig{Base: 30 * time.Millisecond, Max: time.Second}
	f := newFixture(t, cfg, testRelay)
	f.dialer.SetRefuse(true)
	f.start(t)

	require.Eventually(t, func() bool { return f.dialer.Dials() >= 4 }, waitFor, tick)

	times := f.dialer.DialTimes()
	for i := 0; i < 3; i++ {
		want := cfg.Backoff.Base << i
		assert.GreaterOrEqual(t, times[i+1].Sub(times[i]), want-2*time.Millisecond, "gap %d", i)
	}
	assert.GreaterOrEqual(t, f.bridge.Attempts(), 3)
}

func TestBridge_DisconnectDoesNotReconnect(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	f.bridge.Disconnect()
	assert.Eventually(t, conn.Graceful, waitFor, tick)
	assert.Eventually(t, func() bool { return f.bridge.State() == relay.StateDisconnected }, waitFor, tick)

	f.bridge.Disconnect()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())

	f.bridge.Emit(relay.EventInput, nil)
	assert.Equal(t, 1, f.bridge.QueueLen())

	f.bridge.Connect()
	next := f.waitConnected(t)
	require.NotSame(t, conn, next)
	assert.Eventually(t, func() bool { return len(next.Written()) == 1 }, waitFor, tick)
}

func TestBridge_ReconnectReplacesConnection(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	first := f.waitConnected(t)

	f.bridge.Reconnect()

	require.Eventually(t, func() bool {
		return f.dialer.Dials() == 2 && f.bridge.State() == relay.StateConnected
	}, waitFor, tick)
	assert.Eventually(t, first.Graceful, waitFor, tick)
}

func TestBridge_ConcurrentConnectDialsOnce(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.dialer.delay = 30 * time.Millisecond
	f.start(t)

	for i := 0; i < 10; i++ {
		f.bridge.Connect()
	}
	f.waitConnected(t)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, f.dialer.Dials())
}

// =============================================================================
// HEARTBEAT
// =============================================================================

func TestBridge_HeartbeatKeepsHealthyConnection(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	f := newFixture(t, cfg, testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	require.Eventually(t, func() bool { return conn.Pings() >= 3 }, waitFor, tick)
	assert.Equal(t, 1, f.dialer.Dials())
	assert.False(t, conn.Closed())
}

func TestBridge_HeartbeatTimeoutRedials(t *testing.T) {
	cfg := testBridgeConfig()
	cfg.HeartbeatInterval = 30 * time.Millisecond
	f := newFixture(t, cfg, testRelay)
	f.start(t)
	conn := f.waitConnected(t)
	conn.SetPongs(false)

	require.Eventually(t, func() bool { return f.dialer.Dials() >= 2 }, waitFor, tick)
	assert.True(t, conn.Closed())
	assert.False(t, conn.Graceful(), "timed out connections are terminated")
	assert.GreaterOrEqual(t, f.bridge.Stats()["heartbeat_timeouts"], int64(1))
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestBridge_ActionAcknowledgeCycle(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	conn.Deliver(toolAction)
	require.Eventually(t, func() bool { return len(f.host.Directives()) == 1 }, waitFor, tick)

	conn.Deliver(toolAction)
	conn.Deliver(`{"type":"user_prompt","payload":{"text":"sync"}}`)
	require.Eventually(t, func() bool { return len(f.host.Directives()) == 2 }, waitFor, tick)
	assert.Equal(t, relay.DirectivePrompt, f.host.Directives()[1].Kind, "duplicate action suppressed")

	f.bridge.Acknowledge(relay.Ack{ID: "a1", Status: "weird", Summary: "listed", ToolName: "bash"})
	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, waitFor, tick)
	ack := conn.Written()[0]
	assert.Equal(t, "action_result", gjson.Get(ack, "type").String())
	assert.Equal(t, "a1", gjson.Get(ack, "payload.id").String())
	assert.Equal(t, "error", gjson.Get(ack, "payload.status").String(), "unknown status coerced")

	conn.Deliver(toolAction)
	require.Eventually(t, func() bool { return len(f.host.Directives()) == 3 }, waitFor, tick)
}

func TestBridge_ClearInFlightAllowsRedelivery(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	conn.Deliver(toolAction)
	require.Eventually(t, func() bool { return len(f.host.Directives()) == 1 }, waitFor, tick)

	f.bridge.ClearInFlight("a1")
	conn.Deliver(toolAction)
	require.Eventually(t, func() bool { return len(f.host.Directives()) == 2 }, waitFor, tick)
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

func TestBridge_ObserveStampsSession(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	f.bridge.Observe(relay.SessionStart{SessionID: "s-42", Cwd: "/work", MessageCount: 3})
	f.bridge.Observe(relay.ToolCall{ToolCallID: "c1", ToolName: "read", Input: []byte(`{"path":"a.go"}`)})
	f.bridge.Observe(relay.SessionSwitch{Reason: "new"})

	require.Eventually(t, func() bool { return len(conn.Written()) == 3 }, waitFor, tick)
	frames := conn.Written()

	assert.Equal(t, "s-42", gjson.Get(frames[0], "sessionId").String())
	assert.Equal(t, "/work", gjson.Get(frames[0], "payload.cwd").String())
	assert.Equal(t, int64(3), gjson.Get(frames[0], "payload.messageCount").Int())

	assert.Equal(t, "s-42", gjson.Get(frames[1], "sessionId").String())
	assert.Equal(t, "a.go", gjson.Get(frames[1], "payload.input.path").String())

	switched := gjson.Get(frames[2], "sessionId").String()
	assert.NotEmpty(t, switched)
	assert.NotEqual(t, "s-42", switched)
	assert.Equal(t, switched, f.bridge.SessionID())
}

func TestBridge_ShutdownSendsFinalEvent(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	f.start(t)
	conn := f.waitConnected(t)

	require.NoError(t, f.bridge.Shutdown(context.Background(), "user quit"))

	frames := conn.Written()
	require.Len(t, frames, 1)
	assert.Equal(t, "session_shutdown", gjson.Get(frames[0], "type").String())
	assert.Equal(t, "user quit", gjson.Get(frames[0], "payload.reason").String())
	assert.True(t, conn.Graceful())

	select {
	case <-f.bridge.Done():
	default:
		t.Fatal("bridge still running after Shutdown")
	}
	assert.Equal(t, relay.StateDisconnected, f.bridge.State())
}

func TestBridge_ShutdownBeforeStart(t *testing.T) {
	f := newFixture(t, testBridgeConfig(), testRelay)
	assert.NoError(t, f.bridge.Shutdown(context.Background(), "never started"))
	assert.Zero(t, f.dialer.Dials())
}
