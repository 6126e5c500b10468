// Package playback runs one spectator session: a single goroutine owns the
// delta store, resolver and timeline, and pushes resolved frames to clients.
package playback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/metrics"
	"github.com/DoyleJ11/turncast/internal/relay"
	"github.com/DoyleJ11/turncast/internal/replay"
	"github.com/DoyleJ11/turncast/internal/resolver"
	"github.com/DoyleJ11/turncast/internal/timeline"
)

// ActionRunner forwards a client's function call to the game the session
// is watching.
type ActionRunner interface {
	Run(ctx context.Context, functionName string, args map[string]any, cont relay.Continuation) (string, error)
}

type Options struct {
	// FrameInterval drives Tick from an internal ticker. Zero means ticks
	// only arrive as messages.
	FrameInterval time.Duration
	Retention     int
	Registry      *resolver.Registry
	Follow        bool
	// Runner is nil for sessions that do not accept actions, such as replays.
	Runner ActionRunner
	Logger *zap.Logger
}

type Session struct {
	inbox chan Msg
	log   *zap.Logger
	opts  Options

	store *engine.Store
	res   *resolver.Resolver
	ctl   *timeline.Controller

	version   int
	dirty     bool
	ended     bool
	following bool
	connected bool
	err       error
	clients   map[string]chan Frame

	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	store := engine.NewStore()

	s := &Session{
		inbox:     make(chan Msg, 64),
		log:       log.Named("playback"),
		opts:      opts,
		store:     store,
		res:       resolver.New(store, opts.Registry, resolver.Options{Retention: opts.Retention, Logger: log}),
		ctl:       timeline.New(store),
		following: opts.Follow,
		connected: true,
		clients:   make(map[string]chan Frame),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.ctl.OnInvalidate.Subscribe(func(timeline.Invalidated) { s.dirty = true })
	s.ctl.OnEnded.Subscribe(func(e timeline.Ended) {
		s.ended = true
		s.log.Debug("playback ended", zap.Int("turn", e.Position.TurnIndex))
	})

	go s.loop()
	return s
}

// Inbox exposes the actor's mailbox. Prefer Send when the session may already
// be shut down.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

// Send delivers m unless the session has stopped.
func (s *Session) Send(m Msg) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Runner returns the action runner for this session, or nil.
func (s *Session) Runner() ActionRunner { return s.opts.Runner }

func (s *Session) loop() {
	var tick <-chan time.Time
	if s.opts.FrameInterval > 0 {
		t := time.NewTicker(s.opts.FrameInterval)
		defer t.Stop()
		tick = t.C
	}
	last := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			s.shutdown()
			return

		case now := <-tick:
			elapsed := now.Sub(last)
			last = now
			s.tick(elapsed)

		case m := <-s.inbox:
			if _, ok := m.(Shutdown); ok {
				s.shutdown()
				return
			}
			s.handle(m)
		}

		if s.dirty {
			s.publish()
		}
	}
}

func (s *Session) handle(m Msg) {
	switch msg := m.(type) {
	case Join:
		// Register client + send current frame immediately
		s.clients[msg.ClientID] = msg.Outbox
		select {
		case msg.Outbox <- s.frame():
		default:
			s.drop(msg.ClientID)
		}

	case Leave:
		delete(s.clients, msg.ClientID)

	case AppendTurn:
		reply(msg.Reply, s.appendTurn(msg.Snapshot))

	case AppendTurns:
		reply(msg.Reply, replay.Feed(appendFunc(s.appendTurn), msg.Snapshots))

	case Tick:
		s.tick(msg.Elapsed)

	case Play:
		err := s.ctl.Play(msg.Speed)
		if err == nil {
			s.ended = false
			s.dirty = true
		}
		reply(msg.Reply, err)

	case Pause:
		s.ctl.Pause()
		s.dirty = true

	case Seek:
		err := s.ctl.Seek(msg.Turn, msg.DT)
		if err == nil {
			s.ended = false
		}
		reply(msg.Reply, err)

	case Follow:
		s.following = msg.On

	case Disconnected:
		s.connected = false
		s.err = msg.Err
		s.ctl.Stop()
		s.dirty = true
		if msg.Err != nil {
			s.log.Warn("turn source failed", zap.Error(msg.Err))
		} else {
			s.log.Info("turn source finished", zap.Int("lastTurn", s.store.LastTurnNumber()))
		}

	case GetState:
		// reflect internal state without data races
		msg.Reply <- View{
			Version:    s.version,
			NumClients: len(s.clients),
			Position:   s.ctl.Position(),
			State:      s.ctl.State(),
			Speed:      s.ctl.Speed(),
			LastTurn:   s.store.LastTurnNumber(),
			Following:  s.following,
			Connected:  s.connected,
			Err:        s.err,
			Tracked:    s.res.Tracked(),
		}
	}
}

type appendFunc func(engine.TurnSnapshot) error

func (f appendFunc) Append(snap engine.TurnSnapshot) error { return f(snap) }

func (s *Session) appendTurn(snap engine.TurnSnapshot) error {
	prevLast := s.store.LastTurnNumber()
	if err := s.store.Append(snap); err != nil {
		s.log.Warn("rejected turn", zap.Int("turn", snap.TurnNumber), zap.Error(err))
		return err
	}
	metrics.TurnsAppended.Inc()

	pos := s.ctl.Position()
	atTail := prevLast < 0 || pos.TurnIndex >= prevLast
	if atTail {
		// the next half of the resolved pair just changed
		s.dirty = true
	}
	if s.following && atTail && s.ended && s.ctl.State() == timeline.Stopped {
		s.ended = false
		if err := s.ctl.Play(s.ctl.Speed()); err != nil {
			s.log.Error("resume live playback", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) tick(elapsed time.Duration) {
	if s.store.Len() == 0 {
		return
	}
	s.ctl.Tick(elapsed)
}

func (s *Session) publish() {
	s.dirty = false
	if s.store.Len() == 0 {
		return
	}
	s.version++
	s.broadcast(s.frame())
}

// frame resolves the current position into a client-owned copy.
func (s *Session) frame() Frame {
	pos := s.ctl.Position()
	f := Frame{
		Version:   s.version,
		TurnIndex: pos.TurnIndex,
		NextIndex: pos.TurnIndex,
		DT:        pos.DT,
		LastTurn:  s.store.LastTurnNumber(),
		State:     s.ctl.State(),
		Speed:     s.ctl.Speed(),
		Ended:     s.ended,
	}
	if s.store.Len() == 0 {
		return f
	}
	r, err := s.res.Resolve(pos.TurnIndex)
	if err != nil {
		s.log.Error("resolve", zap.Int("turn", pos.TurnIndex), zap.Error(err))
		return f
	}
	f.NextIndex = r.NextIndex
	f.Attributes = r.Current.Attributes
	f.Reason = r.Reason
	f.NextReason = r.NextReason
	f.Entities = make([]Entity, 0, len(r.Entities))
	for _, p := range r.Entities {
		f.Entities = append(f.Entities, Entity{
			ID:         p.ID,
			TypeName:   p.TypeName,
			Current:    p.Current,
			Next:       p.Next,
			Creating:   p.Creating(),
			Destroying: p.Destroying(),
		})
	}
	return f
}

func (s *Session) broadcast(f Frame) {
	for id, ch := range s.clients {
		select {
		case ch <- f:
			metrics.FramesBroadcast.Inc()
		default:
			// Client is slow/full - drop them.
			s.drop(id)
		}
	}
}

func (s *Session) drop(id string) {
	ch, ok := s.clients[id]
	if !ok {
		return
	}
	close(ch)
	delete(s.clients, id)
	metrics.ClientsDropped.Inc()
	s.log.Info("dropped slow client", zap.String("client", id))
}

func (s *Session) shutdown() {
	for id, ch := range s.clients {
		close(ch) // Tell client no more frames
		delete(s.clients, id)
	}
	s.cancel()
}

func reply(ch chan error, err error) {
	if ch != nil {
		ch <- err
	}
}
