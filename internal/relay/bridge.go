package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/session-mirror/internal/config"
	"github.com/compresr/session-mirror/internal/inflight"
	"github.com/compresr/session-mirror/internal/monitoring"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	errHeartbeatTimeout = errors.New("heartbeat timeout: no pong since last ping")
	// ErrBridgeRunning is returned by a second call to Run.
	ErrBridgeRunning = errors.New("relay: bridge already running")
)

const mailboxSize = 1024

// Options wires a Bridge. Resolver and Host are required.
type Options struct {
	Resolver config.Resolver
	Host     Host
	Config   config.BridgeConfig

	Dialer   Dialer         // default WebSocketDialer
	InFlight inflight.Store // default MemoryStore with Config.InFlightTTL; closed by the bridge only when defaulted
	Metrics  *monitoring.MetricsCollector
	Journal  *monitoring.Journal
	Alerts   *monitoring.AlertManager

	// OnStatus is called from the bridge loop whenever the connection
	// enters or leaves the connected state. It must not block.
	OnStatus func(connected bool)

	// Rand overrides the backoff jitter source.
	Rand func() float64
}

// Bridge mirrors local session events to the relay and runs approved
// commands it receives back. All connection state is owned by Run.
type Bridge struct {
	cfg         config.BridgeConfig
	resolver    config.Resolver
	dialer      Dialer
	tracker     inflight.Store
	ownsTracker bool
	dispatcher  *Dispatcher
	metrics     *monitoring.MetricsCollector
	journal     *monitoring.Journal
	alerts      *monitoring.AlertManager
	onStatus    func(bool)
	backoff     Backoff

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	state     atomic.Int32
	sessionID atomic.Pointer[string]

	// Owned by the Run goroutine.
	runCtx     context.Context
	queue      *Queue
	conn       Conn
	connID     string
	connCtx    context.Context
	cancelConn context.CancelFunc
	gen        uint64
	dialing    bool
	attempts   int
	retry      *time.Timer
	hbStop     chan struct{}
	alive      bool
	overflowed bool
}

// New creates a bridge. Call Run to start it.
func New(opts Options) (*Bridge, error) {
	if opts.Resolver == nil {
		return nil, errors.New("relay: resolver is required")
	}
	if opts.Host == nil {
		return nil, errors.New("relay: host is required")
	}

	cfg := config.WithDefaults(config.Config{Bridge: opts.Config}).Bridge
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:      cfg,
		resolver: opts.Resolver,
		dialer:   opts.Dialer,
		tracker:  opts.InFlight,
		metrics:  opts.Metrics,
		journal:  opts.Journal,
		alerts:   opts.Alerts,
		onStatus: opts.OnStatus,
		backoff: Backoff{
			Base:   cfg.Backoff.Base,
			Max:    cfg.Backoff.Max,
			Jitter: cfg.Backoff.Jitter,
			Rand:   opts.Rand,
		},
		mailbox: make(chan func(), mailboxSize),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		queue:   NewQueue(cfg.QueueCapacity),
	}
	if b.dialer == nil {
		b.dialer = WebSocketDialer{ReadLimit: cfg.ReadLimit}
	}
	if b.tracker == nil {
		b.tracker = inflight.NewMemoryStore(cfg.InFlightTTL)
		b.ownsTracker = true
	}
	if b.metrics == nil {
		b.metrics = monitoring.NewMetricsCollector()
	}
	if b.alerts == nil {
		b.alerts = monitoring.NewAlertManager(monitoring.NewWithLogger(log.Logger), monitoring.AlertConfig{})
	}
	b.dispatcher = NewDispatcher(opts.Host, b.tracker, b.metrics, cfg.AckTool)
	return b, nil
}

// =============================================================================
// PUBLIC API - safe from any goroutine
// =============================================================================

// Run connects and processes bridge work until ctx is cancelled or Close is
// called. It returns ErrBridgeRunning if the bridge was already started.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrBridgeRunning
	}
	b.run(ctx)
	return nil
}

// Start runs the bridge on a new goroutine. The bridge is accepting calls
// when Start returns.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrBridgeRunning
	}
	go b.run(ctx)
	return nil
}

func (b *Bridge) run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.runCtx = runCtx

	defer close(b.done)
	defer b.teardown()

	b.connect()
	for {
		select {
		case fn := <-b.mailbox:
			fn()
		case <-runCtx.Done():
			return
		case <-b.quit:
			return
		}
	}
}

// Emit stamps an event with the current time and session and sends it, or
// queues it while disconnected.
func (b *Bridge) Emit(eventType EventType, payload map[string]any) {
	ev, err := NewMirrorEvent(eventType, time.Now(), b.SessionID(), payload)
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("relay: dropping unencodable event")
		return
	}
	b.post(func() { b.send(ev) })
}

// ClearInFlight stops suppressing the given action ids.
func (b *Bridge) ClearInFlight(ids ...string) {
	if len(ids) == 0 {
		return
	}
	clearIDs := func() {
		if err := b.tracker.Clear(ids...); err != nil {
			log.Warn().Err(err).Strs("step_ids", ids).Msg("relay: clear in-flight failed")
		}
	}
	if !b.post(clearIDs) {
		clearIDs()
	}
}

// Acknowledge clears the action id and reports its outcome to the relay.
func (b *Bridge) Acknowledge(ack Ack) {
	ack = ack.normalized()
	payload := map[string]any{
		"id":       ack.ID,
		"status":   string(ack.Status),
		"summary":  ack.Summary,
		"toolName": ack.ToolName,
	}
	ev, err := NewMirrorEvent(EventActionResult, time.Now(), b.SessionID(), payload)
	if err != nil {
		log.Warn().Err(err).Str("step_id", ack.ID).Msg("relay: cannot encode acknowledgment")
	}
	b.post(func() {
		if err := b.tracker.Clear(ack.ID); err != nil {
			log.Warn().Err(err).Str("step_id", ack.ID).Msg("relay: clear in-flight failed")
		}
		if ev.Frame() != nil {
			b.send(ev)
		}
	})
}

// Connect starts a connection attempt if none is open or pending.
func (b *Bridge) Connect() {
	b.post(b.connect)
}

// Disconnect closes the connection without scheduling a reconnect and waits
// for the loop to apply it. Calling it while disconnected is a no-op.
func (b *Bridge) Disconnect() {
	b.call(func() { b.disconnect() })
}

// Reconnect tears the connection down and dials again with freshly
// resolved configuration.
func (b *Bridge) Reconnect() {
	b.post(func() {
		log.Info().Msg("relay: reconnect requested")
		b.disconnect()
		b.connect()
	})
}

// Shutdown emits a final session_shutdown event, gives it the configured
// grace period to leave, then disconnects and stops the loop.
func (b *Bridge) Shutdown(ctx context.Context, reason string) error {
	if !b.started.Load() {
		return b.Close()
	}
	b.Emit(EventSessionShutdown, SessionShutdown{Reason: reason}.Payload())
	b.call(func() {})

	timer := time.NewTimer(b.cfg.ShutdownGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}

	var closed <-chan struct{}
	b.call(func() { closed = b.disconnect() })
	if closed != nil {
		handshake := time.NewTimer(b.cfg.WriteTimeout)
		defer handshake.Stop()
		select {
		case <-closed:
		case <-handshake.C:
		case <-ctx.Done():
		}
	}
	return b.Close()
}

// Close stops the loop and waits for it to exit.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.quit) })
	if b.started.Load() {
		<-b.done
	}
	return nil
}

// Done is closed when Run has returned.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// State returns the current connection state.
func (b *Bridge) State() State { return State(b.state.Load()) }

// SessionID returns the active local session id.
func (b *Bridge) SessionID() string {
	if p := b.sessionID.Load(); p != nil {
		return *p
	}
	return ""
}

// SetSessionID changes the id stamped on subsequent events.
func (b *Bridge) SetSessionID(id string) {
	b.sessionID.Store(&id)
}

// Attempts returns the reconnect attempt counter.
func (b *Bridge) Attempts() int {
	var n int
	b.call(func() { n = b.attempts })
	return n
}

// QueueLen returns the number of events waiting for a connection.
func (b *Bridge) QueueLen() int {
	var n int
	b.call(func() { n = b.queue.Len() })
	return n
}

// Stats returns bridge counters.
func (b *Bridge) Stats() map[string]int64 { return b.metrics.Stats() }

var _ Emitter = (*Bridge)(nil)

// post hands fn to the loop. It returns false once the loop has exited.
func (b *Bridge) post(fn func()) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.mailbox <- fn:
		return true
	case <-b.done:
		return false
	}
}

// call runs fn on the loop and waits for it. It does nothing before Run.
func (b *Bridge) call(fn func()) bool {
	if !b.started.Load() {
		return false
	}
	finished := make(chan struct{})
	if !b.post(func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-b.done:
		return false
	}
}

// =============================================================================
// LOOP - everything below runs on the Run goroutine
// =============================================================================

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
}

func (b *Bridge) connect() {
	if b.conn != nil || b.dialing {
		return
	}
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}

	relayCfg, err := b.resolver.Resolve()
	if err != nil {
		if errors.Is(err, config.ErrNotConfigured) {
			log.Debug().Msg("relay: not configured, bridge idle")
		} else {
			log.Warn().Err(err).Msg("relay: configuration unavailable, bridge idle")
		}
		b.setState(StateDisconnected)
		return
	}
	url, err := relayCfg.DialURL()
	if err != nil {
		log.Warn().Err(err).Msg("relay: invalid relay url, bridge idle")
		b.setState(StateDisconnected)
		return
	}

	b.gen++
	gen := b.gen
	connID := uuid.NewString()[:8]
	connCtx, cancel := context.WithCancel(monitoring.WithConnIDContext(b.runCtx, connID))
	b.connCtx, b.cancelConn = connCtx, cancel
	b.dialing = true
	b.setState(StateConnecting)

	log.Debug().Str("conn_id", connID).Str("url", relayCfg.Redacted()).Int("attempt", b.attempts).Msg("relay: connecting")

	go func() {
		dialCtx, cancelDial := context.WithTimeout(connCtx, b.cfg.DialTimeout)
		defer cancelDial()
		start := time.Now()
		conn, err := b.dialer.Dial(dialCtx, url)
		took := time.Since(start)
		if !b.post(func() { b.onDialed(gen, connID, conn, err, took) }) && conn != nil {
			conn.Terminate()
		}
	}()
}

func (b *Bridge) onDialed(gen uint64, connID string, conn Conn, err error, took time.Duration) {
	if gen != b.gen {
		if conn != nil {
			conn.Terminate()
		}
		return
	}
	b.dialing = false

	if err != nil {
		b.cancelConn()
		b.setState(StateDisconnected)
		b.scheduleReconnect(err)
		return
	}

	b.alerts.FlagSlowDial(connID, took)
	b.conn = conn
	b.connID = connID
	b.attempts = 0
	b.alive = true
	b.overflowed = false
	b.setState(StateConnected)
	b.metrics.RecordConnect()
	log.Info().Str("conn_id", connID).Int("queued", b.queue.Len()).Msg("relay: connected")

	b.startHeartbeat(gen)
	go b.readLoop(gen, b.connCtx, conn)
	b.notifyStatus(true)
	b.flush(gen)
}

func (b *Bridge) readLoop(gen uint64, ctx context.Context, conn Conn) {
	for {
		data, err := conn.Read(ctx)
		if err != nil {
			b.post(func() { b.handleClose(gen, err) })
			return
		}
		b.post(func() { b.onFrame(gen, data) })
	}
}

func (b *Bridge) onFrame(gen uint64, data []byte) {
	if gen != b.gen || b.conn == nil {
		return
	}
	b.alive = true
	b.dispatcher.Handle(b.connCtx, data)
}

// handleClose reacts to a connection lost without being asked to:
// remote close, read or write failure, or heartbeat timeout.
func (b *Bridge) handleClose(gen uint64, cause error) {
	if gen != b.gen || b.conn == nil {
		return
	}
	log.Info().Str("conn_id", b.connID).Err(cause).Msg("relay: connection lost")

	b.stopHeartbeat()
	b.conn.Terminate()
	b.conn = nil
	b.cancelConn()
	b.setState(StateDisconnected)
	b.metrics.RecordDisconnect()
	b.notifyStatus(false)
	b.scheduleReconnect(cause)
}

// scheduleReconnect arms the single reconnect timer.
func (b *Bridge) scheduleReconnect(cause error) {
	if b.retry != nil {
		return
	}
	delay := b.backoff.Delay(b.attempts)
	b.alerts.FlagDialFailure(b.attempts, delay, cause)
	b.attempts++

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.post(func() {
			if b.retry != t {
				return
			}
			b.retry = nil
			b.connect()
		})
	})
	b.retry = t
}

// disconnect is the explicit teardown: no reconnect follows. The returned
// channel is closed once the close handshake has finished.
func (b *Bridge) disconnect() <-chan struct{} {
	if b.retry != nil {
		b.retry.Stop()
		b.retry = nil
	}
	b.stopHeartbeat()
	b.gen++
	b.dialing = false
	b.attempts = 0

	cancel := b.cancelConn
	b.cancelConn = nil
	if b.conn == nil {
		if cancel != nil {
			cancel()
		}
		b.setState(StateDisconnected)
		return closedChan
	}

	conn, gen := b.conn, b.gen
	closed := make(chan struct{})
	b.conn = nil
	b.setState(StateClosing)
	b.metrics.RecordDisconnect()
	b.notifyStatus(false)
	log.Info().Str("conn_id", b.connID).Msg("relay: disconnecting")

	go func() {
		if err := conn.Close(); err != nil {
			log.Debug().Err(err).Msg("relay: close handshake incomplete")
		}
		if cancel != nil {
			cancel()
		}
		close(closed)
		b.post(func() {
			if b.gen == gen && b.State() == StateClosing {
				b.setState(StateDisconnected)
			}
		})
	}()
	return closed
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (b *Bridge) teardown() {
	b.disconnect()
	if b.conn == nil && b.State() == StateClosing {
		b.setState(StateDisconnected)
	}
	if b.ownsTracker {
		_ = b.tracker.Close()
	}
	log.Debug().Interface("stats", b.metrics.Stats()).Msg("relay: bridge stopped")
}

// =============================================================================
// OUTBOUND
// =============================================================================

func (b *Bridge) send(ev MirrorEvent) {
	if b.conn == nil || b.queue.Len() > 0 {
		b.enqueue(ev)
		return
	}
	if err := b.write(ev); err != nil {
		// The queue is empty while connected, so this keeps emission order.
		b.enqueue(ev)
		b.handleClose(b.gen, err)
	}
}

func (b *Bridge) write(ev MirrorEvent) error {
	ctx, cancel := context.WithTimeout(b.connCtx, b.cfg.WriteTimeout)
	defer cancel()
	if err := b.conn.Write(ctx, ev.Frame()); err != nil {
		return err
	}
	b.metrics.RecordEvent(monitoring.FrameSent)
	b.journal.Record(monitoring.FrameSent, string(ev.Type), ev.SessionID, ev.Frame())
	return nil
}

func (b *Bridge) enqueue(ev MirrorEvent) {
	if b.queue.Push(ev) {
		b.metrics.RecordEvent(monitoring.FrameQueued)
		b.journal.Record(monitoring.FrameQueued, string(ev.Type), ev.SessionID, ev.Frame())
		return
	}
	b.metrics.RecordEvent(monitoring.FrameDropped)
	b.journal.Record(monitoring.FrameDropped, string(ev.Type), ev.SessionID, ev.Frame())
	if !b.overflowed {
		b.overflowed = true
		b.alerts.FlagQueueOverflow(b.queue.Cap(), string(ev.Type))
	}
}

// flush drains the queue in order. A write failure leaves the unsent
// events queued and closes the connection.
func (b *Bridge) flush(gen uint64) {
	for b.conn != nil && gen == b.gen {
		ev, ok := b.queue.Peek()
		if !ok {
			return
		}
		if err := b.write(ev); err != nil {
			b.handleClose(gen, err)
			return
		}
		b.queue.Pop()
	}
}

func (b *Bridge) notifyStatus(connected bool) {
	if b.onStatus != nil {
		b.onStatus(connected)
	}
}
