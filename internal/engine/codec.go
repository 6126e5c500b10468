package engine

import (
	"encoding/json"
	"fmt"

	"github.com/DoyleJ11/turncast/pkg/types"
)

const (
	reasonRan      = "ran"
	reasonFinished = "finished"
)

// DecodeDelta converts a wire delta into a snapshot.
func DecodeDelta(d types.DeltaData) (TurnSnapshot, error) {
	if d.TurnNumber < 0 {
		return TurnSnapshot{}, fmt.Errorf("%w: negative turn number %d", ErrBadDelta, d.TurnNumber)
	}
	snap := TurnSnapshot{TurnNumber: d.TurnNumber}
	if len(d.State) > 0 {
		if err := json.Unmarshal(d.State, &snap.State); err != nil {
			return TurnSnapshot{}, fmt.Errorf("%w: state: %v", ErrBadDelta, err)
		}
	} else {
		snap.State = GameState{Objects: map[string]GameObjectState{}, Attributes: map[string]any{}}
	}
	if d.Reason != nil {
		reason, err := DecodeReason(*d.Reason)
		if err != nil {
			return TurnSnapshot{}, err
		}
		snap.Reason = reason
	}
	return snap, nil
}

func DecodeReason(r types.ReasonData) (Reason, error) {
	switch r.Type {
	case reasonRan:
		var ran types.RanData
		if err := json.Unmarshal(r.Data, &ran); err != nil {
			return nil, fmt.Errorf("%w: ran: %v", ErrBadDelta, err)
		}
		return Ran{
			CallerID:     ran.CallerID,
			FunctionName: ran.FunctionName,
			Args:         ran.Args,
			Returned:     ran.Returned,
			RequestID:    ran.RequestID,
		}, nil
	case reasonFinished:
		var fin types.FinishedData
		if err := json.Unmarshal(r.Data, &fin); err != nil {
			return nil, fmt.Errorf("%w: finished: %v", ErrBadDelta, err)
		}
		return Finished{
			PlayerID:  fin.PlayerID,
			OrderName: fin.OrderName,
			Args:      fin.Args,
			Returned:  fin.Returned,
			RequestID: fin.RequestID,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown reason type %q", ErrBadDelta, r.Type)
	}
}

// EncodeDelta is the inverse of DecodeDelta, used when recording or archiving turns.
func EncodeDelta(s TurnSnapshot) (types.DeltaData, error) {
	state, err := json.Marshal(s.State)
	if err != nil {
		return types.DeltaData{}, err
	}
	reason, err := EncodeReason(s.Reason)
	if err != nil {
		return types.DeltaData{}, err
	}
	return types.DeltaData{TurnNumber: s.TurnNumber, State: state, Reason: reason}, nil
}

// EncodeReason returns the wire form of r, or nil for a nil reason.
func EncodeReason(r Reason) (*types.ReasonData, error) {
	var payload any
	var kind string
	switch r := r.(type) {
	case nil:
		return nil, nil
	case Ran:
		kind = reasonRan
		payload = types.RanData{CallerID: r.CallerID, FunctionName: r.FunctionName, Args: r.Args, Returned: r.Returned, RequestID: r.RequestID}
	case Finished:
		kind = reasonFinished
		payload = types.FinishedData{PlayerID: r.PlayerID, OrderName: r.OrderName, Args: r.Args, Returned: r.Returned, RequestID: r.RequestID}
	default:
		return nil, fmt.Errorf("unsupported reason %T", r)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &types.ReasonData{Type: kind, Data: raw}, nil
}
