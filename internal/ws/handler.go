// Package ws serves the renderer websocket: frames out, playback controls and
// human actions in.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/hub"
	"github.com/DoyleJ11/turncast/internal/playback"
	"github.com/DoyleJ11/turncast/internal/timeline"
	"github.com/DoyleJ11/turncast/internal/types"
)

const (
	writeTimeout = 3 * time.Second
	replyTimeout = 2 * time.Second
)

var errNoActions = errors.New("this session does not accept actions")

// Handler upgrades /ws?code=... for the session with that code. Actions go to
// the session's own runner; sessions without one only spectate.
func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}

		s := h.Get(code)
		if s == nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan playback.Frame, 8)
		direct := make(chan types.ServerMessage, 8)
		clientID := uuid.NewString()
		clog := log.With(zap.String("code", code), zap.String("client", clientID))

		if !s.Send(playback.Join{ClientID: clientID, Outbox: out}) {
			conn.Close(websocket.StatusGoingAway, "session closed")
			return
		}
		defer s.Send(playback.Leave{ClientID: clientID})
		clog.Debug("renderer joined")

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			ended := false
			for {
				select {
				case <-writeCtx.Done():
					return
				case f, ok := <-out:
					if !ok {
						// session dropped us or shut down
						conn.Close(websocket.StatusGoingAway, "session closed")
						return
					}
					write(writeCtx, conn, types.ServerMessage{Type: "Frame", Version: f.Version, Frame: frameView(f)})
					if f.Ended && !ended {
						write(writeCtx, conn, types.ServerMessage{Type: "Ended", Version: f.Version})
					}
					ended = f.Ended
				case m := <-direct:
					write(writeCtx, conn, m)
				}
			}
		}()

		send := func(m types.ServerMessage) {
			select {
			case direct <- m:
			default:
				clog.Warn("dropping reply for slow renderer", zap.String("type", m.Type))
			}
		}

		// Reader loop
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					clog.Debug("renderer read", zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				send(types.ServerMessage{Type: "Error", Error: "bad json"})
				continue
			}
			if err := dispatch(r.Context(), s, cm, send); err != nil {
				send(types.ServerMessage{Type: "Error", Error: err.Error()})
			}
		}
	}
}

func dispatch(ctx context.Context, s *playback.Session, cm types.ClientMessage, send func(types.ServerMessage)) error {
	switch cm.Type {
	case "Play":
		speed := timeline.DefaultSpeed
		if cm.Speed != nil {
			speed = *cm.Speed
		}
		return ask(ctx, s, func(reply chan error) playback.Msg { return playback.Play{Speed: speed, Reply: reply} })
	case "Pause":
		s.Send(playback.Pause{})
		return nil
	case "Seek":
		return ask(ctx, s, func(reply chan error) playback.Msg { return playback.Seek{Turn: cm.Turn, DT: cm.DT, Reply: reply} })
	case "Follow":
		s.Send(playback.Follow{On: cm.On})
		return nil
	case "Run":
		runner := s.Runner()
		if runner == nil {
			return errNoActions
		}
		_, err := runner.Run(ctx, cm.FunctionName, cm.Args, func(returned any) {
			send(types.ServerMessage{Type: "Ran", Returned: returned})
		})
		return err
	default:
		return errors.New("unknown type")
	}
}

// ask sends a message carrying a reply channel and waits for the answer.
func ask(ctx context.Context, s *playback.Session, build func(chan error) playback.Msg) error {
	reply := make(chan error, 1)
	if !s.Send(build(reply)) {
		return errors.New("session closed")
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func write(ctx context.Context, conn *websocket.Conn, m types.ServerMessage) {
	payload, err := json.Marshal(m)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	_ = conn.Write(ctx, websocket.MessageText, payload)
	cancel()
}

func frameView(f playback.Frame) *types.FrameView {
	v := &types.FrameView{
		Turn:       f.TurnIndex,
		NextTurn:   f.NextIndex,
		DT:         f.DT,
		LastTurn:   f.LastTurn,
		State:      f.State.String(),
		Speed:      f.Speed,
		Attributes: f.Attributes,
		Entities:   make([]types.EntityView, 0, len(f.Entities)),
	}
	v.Reason, _ = engine.EncodeReason(f.Reason)
	v.NextReason, _ = engine.EncodeReason(f.NextReason)
	for _, e := range f.Entities {
		v.Entities = append(v.Entities, types.EntityView{
			ID:         e.ID,
			TypeName:   e.TypeName,
			Current:    e.Current,
			Next:       e.Next,
			Creating:   e.Creating,
			Destroying: e.Destroying,
		})
	}
	return v
}
