package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/pkg/types"
)

type captured struct {
	sent []types.Envelope
	err  error
}

func (c *captured) Send(_ context.Context, env types.Envelope) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, env)
	return nil
}

func TestRelay_SendThenMatchingRanInvokesOnce(t *testing.T) {
	out := &captured{}
	r := New(out, nil)

	var got []any
	id, err := r.Send(context.Background(), "move", map[string]any{"tile": "a1"}, func(returned any) {
		got = append(got, returned)
	})
	require.NoError(t, err)
	require.Len(t, out.sent, 1)

	env := out.sent[0]
	assert.Equal(t, "run", env.Event)
	var run types.RunData
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, types.RunData{FunctionName: "move", Args: map[string]any{"tile": "a1"}, RequestID: id}, run)

	ran := engine.Ran{CallerID: "u1", FunctionName: "move", Returned: "ok", RequestID: id}
	assert.True(t, r.Deliver(ran))
	assert.False(t, r.Deliver(ran), "replayed delta must not invoke again")
	assert.Equal(t, []any{"ok"}, got)
	assert.Equal(t, 0, r.Pending())
}

func TestRelay_FinishedAlsoCorrelates(t *testing.T) {
	r := New(&captured{}, nil)
	var got any
	id, err := r.Send(context.Background(), "runTurn", nil, func(v any) { got = v })
	require.NoError(t, err)

	assert.True(t, r.Deliver(engine.Finished{PlayerID: "0", OrderName: "runTurn", Returned: true, RequestID: id}))
	assert.Equal(t, true, got)
}

func TestRelay_UnmatchedReasonsAreIgnored(t *testing.T) {
	r := New(&captured{}, nil)
	calls := 0
	_, err := r.Send(context.Background(), "move", nil, func(any) { calls++ })
	require.NoError(t, err)

	cases := []engine.Reason{
		nil,
		engine.Ran{FunctionName: "move"},
		engine.Ran{FunctionName: "move", RequestID: "someone-else"},
		engine.Finished{OrderName: "runTurn", RequestID: "other"},
	}
	for _, reason := range cases {
		assert.False(t, r.Deliver(reason))
	}
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, r.Pending())
}

func TestRelay_FailedSendForgetsContinuation(t *testing.T) {
	boom := errors.New("socket gone")
	r := New(&captured{err: boom}, nil)
	_, err := r.Send(context.Background(), "move", nil, func(any) { t.Fatal("must not run") })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Pending())
}

func TestRelay_CloseDropsPendingSilently(t *testing.T) {
	r := New(&captured{}, nil)
	id, err := r.Send(context.Background(), "move", nil, func(any) { t.Fatal("closed relay must not invoke") })
	require.NoError(t, err)

	r.Close()
	assert.Equal(t, 0, r.Pending())
	assert.False(t, r.Deliver(engine.Ran{RequestID: id}))

	_, err = r.Send(context.Background(), "move", nil, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestRelay_RequestIDsAreUnique(t *testing.T) {
	r := New(&captured{}, nil)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := r.Send(context.Background(), "noop", nil, nil)
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
