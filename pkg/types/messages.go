package types

import "encoding/json"

// Every message on both sockets is an envelope:
//   { "event": string, "data": any }
//
// Tournament server
//   out register: { type: "client", name, password }
//   in  message:  string
//   in  play:     { server, port, game, playerName, session }
//
// Game server
//   out play:    { gameName, requestedSession, playerName, spectating }
//   out run:     { functionName, args, requestId }
//   in  delta:   { turnNumber, state, reason }
//   in  lobbied: { gameName, gameSession }
//   in  start:   { playerID }
//   in  invalid: { message, data }
//   in  over:    { message }
//   in  fatal:   { message }

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	EventRegister = "register"
	EventMessage  = "message"
	EventPlay     = "play"
	EventRun      = "run"
	EventDelta    = "delta"
	EventLobbied  = "lobbied"
	EventStart    = "start"
	EventInvalid  = "invalid"
	EventOver     = "over"
	EventFatal    = "fatal"
)

type RegisterData struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// PlayAssignment is sent by the tournament server once a match is ready.
type PlayAssignment struct {
	Server     string `json:"server"`
	Port       int    `json:"port"`
	Game       string `json:"game"`
	PlayerName string `json:"playerName"`
	Session    string `json:"session"`
}

// PlayRequest joins a game server session.
type PlayRequest struct {
	GameName         string `json:"gameName"`
	RequestedSession string `json:"requestedSession"`
	PlayerName       string `json:"playerName,omitempty"`
	Spectating       bool   `json:"spectating,omitempty"`
}

type RunData struct {
	FunctionName string         `json:"functionName"`
	Args         map[string]any `json:"args"`
	RequestID    string         `json:"requestId"`
}

type DeltaData struct {
	TurnNumber int             `json:"turnNumber"`
	State      json.RawMessage `json:"state"`
	Reason     *ReasonData     `json:"reason,omitempty"`
}

// ReasonData is the tagged union describing what produced a delta.
// Type is "ran" or "finished".
type ReasonData struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type RanData struct {
	CallerID     string         `json:"callerId"`
	FunctionName string         `json:"functionName"`
	Args         map[string]any `json:"args,omitempty"`
	Returned     any            `json:"returned"`
	RequestID    string         `json:"requestId,omitempty"`
}

type FinishedData struct {
	PlayerID  string         `json:"playerId"`
	OrderName string         `json:"orderName"`
	Args      map[string]any `json:"args,omitempty"`
	Returned  any            `json:"returned"`
	RequestID string         `json:"requestId,omitempty"`
}

type LobbiedData struct {
	GameName    string `json:"gameName"`
	GameSession string `json:"gameSession"`
}

type StartData struct {
	PlayerID string `json:"playerID"`
}

type TextData struct {
	Message string `json:"message"`
}

// GameLog is the on-disk shape of a finished match.
type GameLog struct {
	GameName    string      `json:"gameName"`
	GameSession string      `json:"gameSession"`
	Deltas      []DeltaData `json:"deltas"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}
