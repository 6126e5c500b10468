// Package hub maps session codes to running playback sessions.
package hub

import (
	"context"

	"github.com/DoyleJ11/turncast/internal/playback"
)

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	Code    string
	Options playback.Options
	Reply   chan *playback.Session
}

type GetSession struct {
	Code  string
	Reply chan *playback.Session
}

type EnsureSession struct {
	Code    string
	Options playback.Options // only used if creation happens
	Reply   chan *playback.Session
}

type RemoveSession struct {
	Code string
}

type ListSessions struct {
	Reply chan []string
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (EnsureSession) isHubMsg() {}
func (RemoveSession) isHubMsg() {}
func (ListSessions) isHubMsg()  {}
func (ShutdownHub) isHubMsg()   {}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*playback.Session
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*playback.Session),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Get is a synchronous GetSession. It returns nil for unknown codes.
func (h *Hub) Get(code string) *playback.Session {
	reply := make(chan *playback.Session, 1)
	select {
	case h.inbox <- GetSession{Code: code, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	}
	select {
	case s := <-reply:
		return s
	case <-h.ctx.Done():
		return nil
	}
}

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				if s := h.live(msg.Code); s != nil {
					msg.Reply <- s
					break
				}
				s := playback.New(h.ctx, msg.Options)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.live(msg.Code) // May be nil

			case EnsureSession:
				if s := h.live(msg.Code); s != nil {
					msg.Reply <- s
					break
				}
				s := playback.New(h.ctx, msg.Options)
				h.sessions[msg.Code] = s
				msg.Reply <- s

			case RemoveSession:
				if s := h.sessions[msg.Code]; s != nil {
					s.Send(playback.Shutdown{})
					delete(h.sessions, msg.Code)
				}

			case ListSessions:
				codes := make([]string, 0, len(h.sessions))
				for code := range h.sessions {
					if h.live(code) != nil {
						codes = append(codes, code)
					}
				}
				msg.Reply <- codes

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

// live returns the session for code, forgetting it if it already shut down.
func (h *Hub) live(code string) *playback.Session {
	s := h.sessions[code]
	if s == nil {
		return nil
	}
	select {
	case <-s.Done():
		delete(h.sessions, code)
		return nil
	default:
		return s
	}
}

func (h *Hub) shutdown() {
	for _, s := range h.sessions {
		s.Send(playback.Shutdown{})
	}
	clear(h.sessions)
	h.cancel()
}
