package types

import (
	"github.com/DoyleJ11/turncast/internal/engine"
	wire "github.com/DoyleJ11/turncast/pkg/types"
)

// ClientMessage is what a renderer sends over /ws.
type ClientMessage struct {
	Type         string         `json:"type"` // "Play" | "Pause" | "Seek" | "Follow" | "Run"
	Speed        *float64       `json:"speed,omitempty"`
	Turn         int            `json:"turn,omitempty"`
	DT           float64        `json:"dt,omitempty"`
	On           bool           `json:"on,omitempty"`
	FunctionName string         `json:"functionName,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
}

type ServerMessage struct {
	Type     string     `json:"type"` // "Frame" | "Ended" | "Ran" | "Error"
	Version  int        `json:"version,omitempty"`
	Frame    *FrameView `json:"frame,omitempty"`
	Returned any        `json:"returned,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type FrameView struct {
	Turn       int              `json:"turn"`
	NextTurn   int              `json:"nextTurn"`
	DT         float64          `json:"dt"`
	LastTurn   int              `json:"lastTurn"`
	State      string           `json:"state"`
	Speed      float64          `json:"speed"`
	Attributes map[string]any   `json:"attributes,omitempty"`
	Reason     *wire.ReasonData `json:"reason,omitempty"`
	NextReason *wire.ReasonData `json:"nextReason,omitempty"`
	Entities   []EntityView     `json:"entities"`
}

type EntityView struct {
	ID         string                 `json:"id"`
	TypeName   string                 `json:"typeName"`
	Current    engine.GameObjectState `json:"current"`
	Next       engine.GameObjectState `json:"next"`
	Creating   bool                   `json:"creating,omitempty"`
	Destroying bool                   `json:"destroying,omitempty"`
}
