package bridge

import (
	"context"
	"time"

	"github.com/coder/websocket"
)

// Conn is one ordered duplex message stream.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, p []byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials text-frame websockets.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, err
	}
	limit := d.ReadLimit
	if limit <= 0 {
		// full game states are much larger than the library's 32KiB default
		limit = 16 << 20
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) Write(ctx context.Context, p []byte) error {
	return w.c.Write(ctx, websocket.MessageText, p)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "bye")
}
