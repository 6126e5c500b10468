package bridge

import (
	"encoding/json"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/pkg/types"
)

// Event is everything the bridge reports, delivered in order on Events().
type Event interface{ isBridgeEvent() }

const (
	ConnTournament = "tournament"
	ConnGame       = "game"
)

type PhaseChanged struct {
	From, To Phase
}

// MessageEvent is free-form lobby text from the tournament server.
type MessageEvent struct {
	Text string
}

// AssignmentEvent carries the game server hand-off received from the tournament.
type AssignmentEvent struct {
	Assignment types.PlayAssignment
}

// LobbyEvent reports game-server lobby progress ("lobbied", "start").
type LobbyEvent struct {
	Event    string
	GameName string
	Session  string
	PlayerID string
}

type TurnEvent struct {
	Snapshot engine.TurnSnapshot
}

// InvalidEvent means the game server rejected something this client sent.
type InvalidEvent struct {
	Message string
	Data    json.RawMessage
}

type OverEvent struct {
	Message string
}

// ErrorEvent reports a transport or protocol failure on one connection.
type ErrorEvent struct {
	Connection string
	Err        error
}

func (PhaseChanged) isBridgeEvent()    {}
func (MessageEvent) isBridgeEvent()    {}
func (AssignmentEvent) isBridgeEvent() {}
func (LobbyEvent) isBridgeEvent()      {}
func (TurnEvent) isBridgeEvent()       {}
func (InvalidEvent) isBridgeEvent()    {}
func (OverEvent) isBridgeEvent()       {}
func (ErrorEvent) isBridgeEvent()      {}
