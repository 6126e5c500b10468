// Package live pumps bridge events into a playback session.
package live

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/bridge"
	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/playback"
)

// TurnSink receives every accepted turn, e.g. a replay recorder or the archive.
type TurnSink interface {
	RecordTurn(engine.TurnSnapshot) error
}

type Options struct {
	Sinks  []TurnSink
	Logger *zap.Logger
}

// Follow forwards turns from events to session until the game ends, a
// connection fails, ctx is done or events is closed. It returns the failure
// that ended the game, or nil.
func Follow(ctx context.Context, events <-chan bridge.Event, session *playback.Session, opts Options) error {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("live")

	for {
		var ev bridge.Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok = <-events:
		}
		if !ok {
			session.Send(playback.Disconnected{})
			return nil
		}

		switch e := ev.(type) {
		case bridge.TurnEvent:
			reply := make(chan error, 1)
			if !session.Send(playback.AppendTurn{Snapshot: e.Snapshot, Reply: reply}) {
				return nil
			}
			select {
			case err := <-reply:
				if err != nil {
					// store rejected it, so sinks must not see it either
					log.Warn("turn dropped", zap.Int("turn", e.Snapshot.TurnNumber), zap.Error(err))
					continue
				}
			case <-ctx.Done():
				return ctx.Err()
			}
			for _, sink := range opts.Sinks {
				if err := sink.RecordTurn(e.Snapshot); err != nil {
					log.Warn("turn sink failed", zap.Int("turn", e.Snapshot.TurnNumber), zap.Error(err))
				}
			}

		case bridge.ErrorEvent:
			session.Send(playback.Disconnected{Err: e.Err})
			return e.Err

		case bridge.OverEvent:
			log.Info("game over", zap.String("message", e.Message))
			session.Send(playback.Disconnected{})
			return nil

		case bridge.MessageEvent:
			log.Info("tournament", zap.String("message", e.Text))

		case bridge.AssignmentEvent:
			log.Info("assigned to game",
				zap.String("server", e.Assignment.Server),
				zap.Int("port", e.Assignment.Port),
				zap.String("session", e.Assignment.Session))

		case bridge.LobbyEvent:
			log.Info("lobby", zap.String("event", e.Event), zap.String("session", e.Session), zap.String("player", e.PlayerID))

		case bridge.InvalidEvent:
			log.Warn("server rejected input", zap.String("message", e.Message))

		case bridge.PhaseChanged:
			log.Debug("bridge phase", zap.Stringer("from", e.From), zap.Stringer("to", e.To))
		}
	}
}
