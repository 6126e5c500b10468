package bridge

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal bridge transition")

type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseRegistered
	PhaseAwaitingAssignment
	PhasePlaying
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseRegistered:
		return "registered"
	case PhaseAwaitingAssignment:
		return "awaiting_assignment"
	case PhasePlaying:
		return "playing"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

type Trigger int

const (
	TriggerConnect Trigger = iota
	TriggerDialFailed
	TriggerRegistered
	TriggerAwait
	TriggerAssigned
	TriggerGameOver
	TriggerSocketError
	TriggerClose
)

func (t Trigger) String() string {
	switch t {
	case TriggerConnect:
		return "connect"
	case TriggerDialFailed:
		return "dial_failed"
	case TriggerRegistered:
		return "registered"
	case TriggerAwait:
		return "await"
	case TriggerAssigned:
		return "assigned"
	case TriggerGameOver:
		return "game_over"
	case TriggerSocketError:
		return "socket_error"
	case TriggerClose:
		return "close"
	}
	return fmt.Sprintf("trigger(%d)", int(t))
}

var transitions = map[Phase]map[Trigger]Phase{
	PhaseDisconnected: {
		TriggerConnect: PhaseConnecting,
		TriggerClose:   PhaseClosed,
	},
	PhaseConnecting: {
		TriggerDialFailed:  PhaseDisconnected,
		TriggerRegistered:  PhaseRegistered,
		TriggerAssigned:    PhasePlaying, // direct game connection
		TriggerSocketError: PhaseClosed,
		TriggerClose:       PhaseClosed,
	},
	PhaseRegistered: {
		TriggerAwait:       PhaseAwaitingAssignment, // read loop started
		TriggerSocketError: PhaseClosed,
		TriggerClose:       PhaseClosed,
	},
	PhaseAwaitingAssignment: {
		TriggerAssigned:    PhasePlaying,
		TriggerSocketError: PhaseClosed,
		TriggerClose:       PhaseClosed,
	},
	PhasePlaying: {
		TriggerAssigned:    PhasePlaying, // replacement game connection
		TriggerGameOver:    PhaseClosed,
		TriggerSocketError: PhaseClosed,
		TriggerClose:       PhaseClosed,
	},
	PhaseClosed: {
		TriggerClose: PhaseClosed,
	},
}

// Transition is the bridge's whole state machine.
func Transition(from Phase, t Trigger) (Phase, error) {
	to, ok := transitions[from][t]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, from, t)
	}
	return to, nil
}
