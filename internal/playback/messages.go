package playback

import (
	"time"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/timeline"
)

type Msg interface{ isSessionMsg() }

// AppendTurn adds one snapshot at the tail. Reply may be nil.
type AppendTurn struct {
	Snapshot engine.TurnSnapshot
	Reply    chan error
}

// AppendTurns loads a batch in order, stopping at the first rejected snapshot.
type AppendTurns struct {
	Snapshots []engine.TurnSnapshot
	Reply     chan error
}

// Tick advances playback by wall-clock time. Sessions with a FrameInterval
// generate their own ticks.
type Tick struct {
	Elapsed time.Duration
}

type Play struct {
	Speed float64
	Reply chan error
}

type Pause struct{}

type Seek struct {
	Turn  int
	DT    float64
	Reply chan error
}

// Follow toggles live follow: playback that ended at the tail resumes when a
// new turn arrives.
type Follow struct {
	On bool
}

// Disconnected reports that the turn source is gone. Err is nil for a normal
// end of game.
type Disconnected struct {
	Err error
}

type Join struct {
	ClientID string
	Outbox   chan Frame // where this client wants to receive frames
}

type Leave struct{ ClientID string }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (AppendTurn) isSessionMsg()   {}
func (AppendTurns) isSessionMsg()  {}
func (Tick) isSessionMsg()         {}
func (Play) isSessionMsg()         {}
func (Pause) isSessionMsg()        {}
func (Seek) isSessionMsg()         {}
func (Follow) isSessionMsg()       {}
func (Disconnected) isSessionMsg() {}
func (Join) isSessionMsg()         {}
func (Leave) isSessionMsg()        {}
func (GetState) isSessionMsg()     {}
func (Shutdown) isSessionMsg()     {}

// Entity is a copy of one resolved proxy, safe to read from other goroutines.
type Entity struct {
	ID         string
	TypeName   string
	Current    engine.GameObjectState
	Next       engine.GameObjectState
	Creating   bool
	Destroying bool
}

// Frame is what joined clients receive after every position change.
type Frame struct {
	Version    int
	TurnIndex  int
	NextIndex  int
	DT         float64
	LastTurn   int
	State      timeline.State
	Speed      float64
	Ended      bool
	Attributes map[string]any
	Reason     engine.Reason
	NextReason engine.Reason
	Entities   []Entity
}

type View struct {
	Version    int
	NumClients int
	Position   timeline.Position
	State      timeline.State
	Speed      float64
	LastTurn   int
	Following  bool
	Connected  bool
	Err        error
	Tracked    int
}
