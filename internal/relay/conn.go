package relay

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is one relay connection. Read must only be called from a single
// goroutine; Write, Ping, Close and Terminate may be called concurrently.
type Conn interface {
	// Read blocks until the next data frame arrives.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one text frame.
	Write(ctx context.Context, data []byte) error
	// Ping sends a ping and waits for the pong.
	Ping(ctx context.Context) error
	// Close performs the close handshake.
	Close() error
	// Terminate drops the connection without a handshake.
	Terminate()
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the relay over WebSocket.
type WebSocketDialer struct {
	// ReadLimit caps inbound frame size. Zero keeps the library default.
	ReadLimit int64
	// Header is sent with the handshake.
	Header http.Header
}

// Dial performs the WebSocket handshake.
func (d WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay handshake failed: %w", err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.c.Read(ctx)
		if err != nil {
			return nil, err
		}
		// The protocol is JSON text; binary frames are not ours.
		if typ == websocket.MessageText {
			return data, nil
		}
	}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bridge disconnect")
}

func (w *wsConn) Terminate() {
	_ = w.c.CloseNow()
}
