package relay_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/compresr/session-mirror/internal/relay"
)

// =============================================================================
// FAKE HOST
// =============================================================================

type fakeHost struct {
	mu         sync.Mutex
	directives []relay.Directive
	confirm    relay.ToolSet
	injectErr  error
}

func newFakeHost(confirmTools ...string) *fakeHost {
	return &fakeHost{confirm: relay.NewToolSet(confirmTools...)}
}

func (h *fakeHost) Inject(_ context.Context, d relay.Directive) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.injectErr != nil {
		return h.injectErr
	}
	h.directives = append(h.directives, d)
	return nil
}

func (h *fakeHost) RequiresConfirmation(tool string) bool {
	return h.confirm.Contains(tool)
}

func (h *fakeHost) Directives() []relay.Directive {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]relay.Directive(nil), h.directives...)
}

func (h *fakeHost) setInjectErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injectErr = err
}

// =============================================================================
// FAKE CONNECTION
// =============================================================================

var errConnClosed = errors.New("fake connection closed")

// fakeConn is an in-memory relay connection. The test plays the relay:
// Deliver pushes inbound frames, Written returns what the bridge sent.
type fakeConn struct {
	url     string
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu       sync.Mutex
	written  [][]byte
	writeErr error
	pongs    bool
	pings    int
	graceful bool
}

func newFakeConn(url string) *fakeConn {
	return &fakeConn{
		url:     url,
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
		pongs:   true,
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errConnClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return errConnClosed
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	c.pings++
	pongs := c.pongs
	c.mu.Unlock()
	if pongs && !c.isClosed() {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errConnClosed
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.graceful = true
	c.mu.Unlock()
	c.shut()
	return nil
}

func (c *fakeConn) Terminate() { c.shut() }

// RemoteClose simulates the relay dropping the connection.
func (c *fakeConn) RemoteClose() { c.shut() }

func (c *fakeConn) shut() { c.once.Do(func() { close(c.closed) }) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Deliver(frame string) { c.inbound <- []byte(frame) }

func (c *fakeConn) Written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) SetPongs(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongs = on
}

func (c *fakeConn) SetWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) Graceful() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graceful
}

func (c *fakeConn) Closed() bool { return c.isClosed() }

func (c *fakeConn) Pings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// =============================================================================
// FAKE DIALER
// =============================================================================

// fakeDialer hands out fakeConns. While refusing, every dial fails.
type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeConn
	dialedAt []time.Time
	refuse   bool
	delay    time.Duration
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (relay.Conn, error) {
	d.mu.Lock()
	d.dialedAt = append(d.dialedAt, time.Now())
	refuse, delay := d.refuse, d.delay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if refuse {
		return nil, errors.New("connection refused")
	}

	c := newFakeConn(url)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) SetRefuse(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = on
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dialedAt)
}

func (d *fakeDialer) DialTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.dialedAt...)
}

func (d *fakeDialer) Conns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakeConn(nil), d.conns...)
}

func (d *fakeDialer) Last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
