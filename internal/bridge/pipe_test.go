package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DoyleJ11/turncast/pkg/types"
)

// pipeConn is an in-memory Conn: the test pushes server messages into in and
// reads what the bridge wrote from out.
type pipeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newPipeConn() *pipeConn {
	return &pipeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (p *pipeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-p.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeConn) Write(ctx context.Context, b []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case p.out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeConn) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// fail simulates the peer dropping the socket.
func (p *pipeConn) fail() { p.Close() }

func (p *pipeConn) push(t *testing.T, event string, data any) {
	t.Helper()
	env, err := types.NewEnvelope(event, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	b, _ := json.Marshal(env)
	p.in <- b
}

func (p *pipeConn) pushRaw(b string) { p.in <- []byte(b) }

func (p *pipeConn) next(t *testing.T) types.Envelope {
	t.Helper()
	select {
	case b := <-p.out:
		var env types.Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("bad frame from bridge: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for bridge to write")
		return types.Envelope{}
	}
}

// scriptedDialer hands out conns per URL and records every dial.
type scriptedDialer struct {
	mu    sync.Mutex
	conns map[string][]*pipeConn
	dials []string
	err   map[string]error
}

func newScriptedDialer() *scriptedDialer {
	return &scriptedDialer{conns: map[string][]*pipeConn{}, err: map[string]error{}}
}

func (d *scriptedDialer) serve(url string) *pipeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newPipeConn()
	d.conns[url] = append(d.conns[url], c)
	return c
}

func (d *scriptedDialer) refuse(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err[url] = err
}

func (d *scriptedDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, url)
	if err := d.err[url]; err != nil {
		return nil, err
	}
	queue := d.conns[url]
	if len(queue) == 0 {
		return nil, errors.New("connection refused: " + url)
	}
	c := queue[0]
	d.conns[url] = queue[1:]
	return c, nil
}

func (d *scriptedDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

// waitFor drains bridge events until match returns true.
func waitFor[T Event](t *testing.T, b *Bridge, within time.Duration) T {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-b.Events():
			if !ok {
				t.Fatalf("events closed while waiting")
			}
			if v, ok := ev.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func waitPhase(t *testing.T, b *Bridge, want Phase) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if b.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("phase: want %s, got %s", want, b.Phase())
}
