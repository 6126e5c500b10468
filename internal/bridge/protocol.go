package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/DoyleJ11/turncast/pkg/types"
)

var (
	ErrProtocol    = errors.New("protocol error")
	ErrServerFatal = errors.New("game server fatal error")
	ErrNotPlaying  = errors.New("bridge is not in a game")
	ErrClosed      = errors.New("bridge closed")
)

const envelopeSchema = `{
  "type": "object",
  "required": ["event"],
  "properties": {
    "event": {"type": "string", "minLength": 1}
  }
}`

const playSchema = `{
  "type": "object",
  "required": ["server", "port", "session"],
  "properties": {
    "server": {"type": "string", "minLength": 1},
    "port": {"type": "integer", "minimum": 1, "maximum": 65535},
    "game": {"type": "string"},
    "playerName": {"type": "string"},
    "session": {"type": "string", "minLength": 1}
  }
}`

const deltaSchema = `{
  "type": "object",
  "required": ["turnNumber", "state"],
  "properties": {
    "turnNumber": {"type": "integer", "minimum": 0},
    "state": {"type": "object"},
    "reason": {
      "oneOf": [
        {"type": "null"},
        {
          "type": "object",
          "required": ["type", "data"],
          "properties": {
            "type": {"enum": ["ran", "finished"]},
            "data": {"type": "object"}
          }
        }
      ]
    }
  }
}`

const textSchema = `{"type": "string"}`

const messageSchema = `{
  "type": ["object", "null"],
  "properties": {"message": {"type": "string"}}
}`

const anySchema = `{}`

var envelope = jsonschema.MustCompileString("envelope.json", envelopeSchema)

// tournamentEvents and gameEvents list every inbound event each connection
// accepts; anything else is a protocol violation.
var tournamentEvents = map[string]*jsonschema.Schema{
	types.EventMessage: jsonschema.MustCompileString("message.json", textSchema),
	types.EventPlay:    jsonschema.MustCompileString("play.json", playSchema),
}

var gameEvents = map[string]*jsonschema.Schema{
	types.EventDelta:   jsonschema.MustCompileString("delta.json", deltaSchema),
	types.EventOver:    jsonschema.MustCompileString("over.json", messageSchema),
	types.EventFatal:   jsonschema.MustCompileString("fatal.json", messageSchema),
	types.EventInvalid: jsonschema.MustCompileString("invalid.json", messageSchema),
	types.EventLobbied: jsonschema.MustCompileString("lobbied.json", anySchema),
	types.EventStart:   jsonschema.MustCompileString("start.json", anySchema),
}

// decodeEnvelope parses and validates one inbound message against the
// connection's accepted events.
func decodeEnvelope(raw []byte, accepted map[string]*jsonschema.Schema) (types.Envelope, error) {
	doc, err := decodeAny(raw)
	if err != nil {
		return types.Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if err := envelope.Validate(doc); err != nil {
		return types.Envelope{}, fmt.Errorf("%w: envelope: %v", ErrProtocol, err)
	}

	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return types.Envelope{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	schema, ok := accepted[env.Event]
	if !ok {
		return types.Envelope{}, fmt.Errorf("%w: unknown event %q", ErrProtocol, env.Event)
	}

	var data any
	if len(env.Data) > 0 {
		if data, err = decodeAny(env.Data); err != nil {
			return types.Envelope{}, fmt.Errorf("%w: %s data: %v", ErrProtocol, env.Event, err)
		}
	}
	if err := schema.Validate(data); err != nil {
		return types.Envelope{}, fmt.Errorf("%w: %s data: %v", ErrProtocol, env.Event, err)
	}
	return env, nil
}

func decodeAny(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
