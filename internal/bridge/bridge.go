// Package bridge connects to a tournament server for matchmaking, then to the
// assigned game server to stream turns and relay a human player's actions.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/metrics"
	"github.com/DoyleJ11/turncast/internal/relay"
	"github.com/DoyleJ11/turncast/pkg/types"
)

type Options struct {
	Dialer       Dialer
	Logger       *zap.Logger
	Scheme       string // "ws" unless set
	Spectating   bool
	EventBuffer  int
	WriteTimeout time.Duration
}

type Bridge struct {
	dialer Dialer
	log    *zap.Logger
	opts   Options

	events       chan Event
	emitMu       sync.RWMutex
	eventsClosed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	phase      Phase
	tournament Conn
	game       *gameConn
	closed     bool
}

type gameConn struct {
	conn       Conn
	assignment types.PlayAssignment
	relay      *relay.Relay
	timeout    time.Duration
	writeMu    sync.Mutex
}

func (g *gameConn) Send(ctx context.Context, env types.Envelope) error {
	return writeEnvelope(ctx, g.conn, &g.writeMu, g.timeout, env)
}

func (g *gameConn) close() error {
	g.relay.Close()
	return g.conn.Close()
}

func New(opts Options) *Bridge {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Scheme == "" {
		opts.Scheme = "ws"
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		dialer: opts.Dialer,
		log:    opts.Logger.Named("bridge"),
		opts:   opts,
		events: make(chan Event, opts.EventBuffer),
		ctx:    ctx,
		cancel: cancel,
		phase:  PhaseDisconnected,
	}
}

// Events is closed once Close has returned.
func (b *Bridge) Events() <-chan Event { return b.events }

func (b *Bridge) Phase() Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// Assignment returns the parameters of the current game connection.
func (b *Bridge) Assignment() (types.PlayAssignment, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.game == nil {
		return types.PlayAssignment{}, false
	}
	return b.game.assignment, true
}

// Connect registers with a tournament server. The game hand-off happens on its
// own once the server sends a play assignment.
func (b *Bridge) Connect(ctx context.Context, host string, port int, playerName, password string) error {
	if err := b.fire(TriggerConnect); err != nil {
		return err
	}
	url := b.url(host, port)
	conn, err := b.dialer.Dial(ctx, url)
	if err != nil {
		b.log.Warn("tournament dial failed", zap.String("url", url), zap.Error(err))
		metrics.TransportErrors.WithLabelValues(ConnTournament).Inc()
		_ = b.fire(TriggerDialFailed)
		b.emit(ErrorEvent{Connection: ConnTournament, Err: err})
		return fmt.Errorf("dial tournament %s: %w", url, err)
	}

	reg, err := types.NewEnvelope(types.EventRegister, types.RegisterData{Type: "client", Name: playerName, Password: password})
	if err == nil {
		err = writeEnvelope(ctx, conn, nil, b.opts.WriteTimeout, reg)
	}
	if err != nil {
		_ = conn.Close()
		metrics.TransportErrors.WithLabelValues(ConnTournament).Inc()
		_ = b.fire(TriggerDialFailed)
		b.emit(ErrorEvent{Connection: ConnTournament, Err: err})
		return fmt.Errorf("register: %w", err)
	}

	b.mu.Lock()
	b.tournament = conn
	b.mu.Unlock()
	if err := b.fire(TriggerRegistered); err != nil {
		// closed while dialing
		b.detachTournament(conn)
		return err
	}
	b.log.Info("registered with tournament", zap.String("url", url), zap.String("player", playerName))

	if err := b.fire(TriggerAwait); err != nil {
		b.detachTournament(conn)
		return err
	}
	b.wg.Add(1)
	go b.readTournament(conn)
	return nil
}

// ConnectGame joins a game server directly, skipping matchmaking. While a game
// is already open, the old connection is closed and replaced.
func (b *Bridge) ConnectGame(ctx context.Context, a types.PlayAssignment) error {
	if b.Phase() != PhasePlaying {
		if err := b.fire(TriggerConnect); err != nil {
			return err
		}
	}
	return b.startGame(ctx, a)
}

// Run sends a human action to the game server. cont runs once with the
// server's returned value, or never if the connection ends first.
func (b *Bridge) Run(ctx context.Context, functionName string, args map[string]any, cont relay.Continuation) (string, error) {
	b.mu.Lock()
	gc, phase := b.game, b.phase
	b.mu.Unlock()
	if phase != PhasePlaying || gc == nil {
		return "", ErrNotPlaying
	}
	return gc.relay.Send(ctx, functionName, args, cont)
}

// Close tears down both connections. Pending action continuations are dropped.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	from := b.phase
	b.phase, _ = Transition(b.phase, TriggerClose)
	b.mu.Unlock()

	err := b.closeConns()
	b.cancel()
	b.wg.Wait()

	b.emitMu.Lock()
	if from != PhaseClosed {
		select {
		case b.events <- PhaseChanged{From: from, To: PhaseClosed}:
		default:
		}
	}
	b.eventsClosed = true
	close(b.events)
	b.emitMu.Unlock()
	return err
}

func (b *Bridge) readTournament(conn Conn) {
	defer b.wg.Done()
	for {
		raw, err := conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil || !b.isTournament(conn) {
				return
			}
			b.fail(ConnTournament, err)
			return
		}
		env, err := decodeEnvelope(raw, tournamentEvents)
		if err != nil {
			b.protocolError(ConnTournament, err)
			return
		}

		switch env.Event {
		case types.EventMessage:
			var text string
			if err := json.Unmarshal(env.Data, &text); err != nil {
				b.protocolError(ConnTournament, fmt.Errorf("%w: message: %v", ErrProtocol, err))
				return
			}
			b.log.Info("tournament message", zap.String("text", text))
			b.emit(MessageEvent{Text: text})

		case types.EventPlay:
			var a types.PlayAssignment
			if err := json.Unmarshal(env.Data, &a); err != nil {
				b.protocolError(ConnTournament, fmt.Errorf("%w: play: %v", ErrProtocol, err))
				return
			}
			b.log.Info("game assigned",
				zap.String("server", a.Server), zap.Int("port", a.Port),
				zap.String("game", a.Game), zap.String("session", a.Session))
			b.emit(AssignmentEvent{Assignment: a})
			b.detachTournament(conn)
			_ = b.startGame(b.ctx, a)
			return
		}
	}
}

// startGame dials the assigned game server, replacing any open game connection.
func (b *Bridge) startGame(ctx context.Context, a types.PlayAssignment) error {
	b.mu.Lock()
	prev := b.game
	b.game = nil
	b.mu.Unlock()
	if prev != nil {
		b.log.Info("replacing game connection", zap.String("session", prev.assignment.Session))
		_ = prev.close()
	}

	url := b.url(a.Server, a.Port)
	conn, err := b.dialer.Dial(ctx, url)
	if err != nil {
		b.log.Warn("game dial failed", zap.String("url", url), zap.Error(err))
		if b.Phase() == PhaseConnecting {
			metrics.TransportErrors.WithLabelValues(ConnGame).Inc()
			_ = b.fire(TriggerDialFailed)
			b.emit(ErrorEvent{Connection: ConnGame, Err: err})
		} else {
			b.fail(ConnGame, err)
		}
		return fmt.Errorf("dial game %s: %w", url, err)
	}

	gc := &gameConn{conn: conn, assignment: a, timeout: b.opts.WriteTimeout}
	gc.relay = relay.New(gc, b.log)

	play, err := types.NewEnvelope(types.EventPlay, types.PlayRequest{
		GameName:         a.Game,
		RequestedSession: a.Session,
		PlayerName:       a.PlayerName,
		Spectating:       b.opts.Spectating,
	})
	if err == nil {
		err = gc.Send(ctx, play)
	}
	if err != nil {
		_ = gc.close()
		b.fail(ConnGame, err)
		return fmt.Errorf("join game: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = gc.close()
		return ErrClosed
	}
	b.game = gc
	b.mu.Unlock()
	if err := b.fire(TriggerAssigned); err != nil {
		b.detachGame(gc)
		return err
	}
	b.log.Info("joined game", zap.String("url", url), zap.String("session", a.Session))

	b.wg.Add(1)
	go b.readGame(gc)
	return nil
}

func (b *Bridge) readGame(gc *gameConn) {
	defer b.wg.Done()
	for {
		raw, err := gc.conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil || !b.isGame(gc) {
				return
			}
			b.fail(ConnGame, err)
			return
		}
		env, err := decodeEnvelope(raw, gameEvents)
		if err != nil {
			b.protocolError(ConnGame, err)
			return
		}

		switch env.Event {
		case types.EventDelta:
			var d types.DeltaData
			if err := json.Unmarshal(env.Data, &d); err != nil {
				b.protocolError(ConnGame, fmt.Errorf("%w: delta: %v", ErrProtocol, err))
				return
			}
			snap, err := engine.DecodeDelta(d)
			if err != nil {
				b.protocolError(ConnGame, fmt.Errorf("%w: %v", ErrProtocol, err))
				return
			}
			b.emit(TurnEvent{Snapshot: snap})
			if gc.relay.Deliver(snap.Reason) {
				b.log.Debug("action result delivered", zap.Int("turn", snap.TurnNumber))
			}

		case types.EventOver:
			msg := textOf(env.Data)
			b.log.Info("game over", zap.String("message", msg))
			b.emit(OverEvent{Message: msg})
			b.detachGame(gc)
			_ = b.fire(TriggerGameOver)
			return

		case types.EventFatal:
			b.fail(ConnGame, fmt.Errorf("%w: %s", ErrServerFatal, textOf(env.Data)))
			return

		case types.EventInvalid:
			msg := textOf(env.Data)
			b.log.Warn("server rejected input", zap.String("message", msg))
			b.emit(InvalidEvent{Message: msg, Data: env.Data})

		case types.EventLobbied:
			var l types.LobbiedData
			_ = json.Unmarshal(env.Data, &l)
			b.emit(LobbyEvent{Event: env.Event, GameName: l.GameName, Session: l.GameSession})

		case types.EventStart:
			var s types.StartData
			_ = json.Unmarshal(env.Data, &s)
			b.emit(LobbyEvent{Event: env.Event, PlayerID: s.PlayerID})
		}
	}
}

func (b *Bridge) fire(t Trigger) error {
	b.mu.Lock()
	from := b.phase
	to, err := Transition(from, t)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.phase = to
	b.mu.Unlock()

	if from != to {
		b.log.Debug("phase", zap.Stringer("from", from), zap.Stringer("to", to), zap.Stringer("trigger", t))
		b.emit(PhaseChanged{From: from, To: to})
	}
	return nil
}

// fail reports a transport failure and closes the bridge's connections.
// No reconnection is attempted.
func (b *Bridge) fail(connection string, err error) {
	metrics.TransportErrors.WithLabelValues(connection).Inc()
	b.log.Warn("connection failed", zap.String("connection", connection), zap.Error(err))
	b.emit(ErrorEvent{Connection: connection, Err: err})
	_ = b.closeConns()
	_ = b.fire(TriggerSocketError)
}

func (b *Bridge) protocolError(connection string, err error) {
	metrics.ProtocolErrors.WithLabelValues(connection).Inc()
	b.log.Error("protocol violation, closing connection", zap.String("connection", connection), zap.Error(err))
	b.emit(ErrorEvent{Connection: connection, Err: err})
	_ = b.closeConns()
	_ = b.fire(TriggerSocketError)
}

func (b *Bridge) emit(ev Event) {
	b.emitMu.RLock()
	defer b.emitMu.RUnlock()
	if b.eventsClosed {
		return
	}
	select {
	case b.events <- ev:
	case <-b.ctx.Done():
	}
}

func (b *Bridge) closeConns() error {
	b.mu.Lock()
	t, g := b.tournament, b.game
	b.tournament, b.game = nil, nil
	b.mu.Unlock()

	var err error
	if t != nil {
		err = multierr.Append(err, t.Close())
	}
	if g != nil {
		err = multierr.Append(err, g.close())
	}
	return err
}

func (b *Bridge) detachTournament(conn Conn) {
	b.mu.Lock()
	if b.tournament == conn {
		b.tournament = nil
	}
	b.mu.Unlock()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		b.log.Debug("closing tournament socket", zap.Error(err))
	}
}

func (b *Bridge) detachGame(gc *gameConn) {
	b.mu.Lock()
	if b.game == gc {
		b.game = nil
	}
	b.mu.Unlock()
	_ = gc.close()
}

func (b *Bridge) isTournament(conn Conn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tournament == conn
}

func (b *Bridge) isGame(gc *gameConn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.game == gc
}

func (b *Bridge) url(host string, port int) string {
	return b.opts.Scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

func writeEnvelope(ctx context.Context, conn Conn, mu *sync.Mutex, timeout time.Duration, env types.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return conn.Write(wctx, payload)
}

func textOf(data json.RawMessage) string {
	var t types.TextData
	if len(data) > 0 {
		_ = json.Unmarshal(data, &t)
	}
	return t.Message
}
