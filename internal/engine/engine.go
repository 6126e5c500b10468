package engine

import (
	"encoding/json"
	"errors"
	"maps"
)

var ErrOutOfOrder = errors.New("turn out of order")
var ErrOutOfRange = errors.New("turn out of range")
var ErrBadDelta = errors.New("malformed delta")

// GameObjectState is one game object's attributes at a single turn.
// It always carries "id" and "typeName".
type GameObjectState map[string]any

func (g GameObjectState) ID() string {
	id, _ := g["id"].(string)
	return id
}

func (g GameObjectState) TypeName() string {
	name, _ := g["typeName"].(string)
	return name
}

// GameState is the full server-reported state at one turn. Objects are keyed by id;
// every other top-level field lands in Attributes.
type GameState struct {
	Objects    map[string]GameObjectState
	Attributes map[string]any
}

func (s GameState) Object(id string) (GameObjectState, bool) {
	obj, ok := s.Objects[id]
	return obj, ok
}

func (s GameState) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Attributes)+1)
	maps.Copy(out, s.Attributes)
	objects := s.Objects
	if objects == nil {
		objects = map[string]GameObjectState{}
	}
	out["gameObjects"] = objects
	return json.Marshal(out)
}

func (s *GameState) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.Objects = map[string]GameObjectState{}
	s.Attributes = map[string]any{}
	for key, val := range raw {
		if key == "gameObjects" {
			if err := json.Unmarshal(val, &s.Objects); err != nil {
				return err
			}
			continue
		}
		var v any
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		s.Attributes[key] = v
	}
	for id, obj := range s.Objects {
		if obj == nil {
			delete(s.Objects, id)
			continue
		}
		if obj.ID() == "" {
			obj["id"] = id
		}
	}
	return nil
}

// Reason describes the server action that produced a snapshot from the one before it.
type Reason interface {
	isReason()
	ReturnedValue() any
	// Correlation is the request id echoed back for a locally issued action, or "".
	Correlation() string
}

// Ran reports that a game object's method was invoked.
type Ran struct {
	CallerID     string
	FunctionName string
	Args         map[string]any
	Returned     any
	RequestID    string
}

func (Ran) isReason()             {}
func (r Ran) ReturnedValue() any  { return r.Returned }
func (r Ran) Correlation() string { return r.RequestID }

// Finished reports that a top-level player order completed.
type Finished struct {
	PlayerID  string
	OrderName string
	Args      map[string]any
	Returned  any
	RequestID string
}

func (Finished) isReason()             {}
func (f Finished) ReturnedValue() any  { return f.Returned }
func (f Finished) Correlation() string { return f.RequestID }

// TurnSnapshot is immutable once appended to a Store.
type TurnSnapshot struct {
	TurnNumber int
	State      GameState
	Reason     Reason // nil for the first turn
}
