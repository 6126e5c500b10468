package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/turncast/pkg/types"
)

const tourneyURL = "ws://tourney:5454"

func connectTournament(t *testing.T, d *scriptedDialer) (*Bridge, *pipeConn) {
	t.Helper()
	tour := d.serve(tourneyURL)
	b := New(Options{Dialer: d})
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Connect(context.Background(), "tourney", 5454, "alice", "hunter2"))
	tour.next(t) // register
	return b, tour
}

func deltaWithRan(turn int, requestID string, returned any) types.DeltaData {
	ran, _ := json.Marshal(types.RanData{CallerID: "1", FunctionName: "move", Returned: returned, RequestID: requestID})
	return types.DeltaData{
		TurnNumber: turn,
		State:      json.RawMessage(`{"gameObjects":{}}`),
		Reason:     &types.ReasonData{Type: "ran", Data: ran},
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from    Phase
		trigger Trigger
		want    Phase
		ok      bool
	}{
		{PhaseDisconnected, TriggerConnect, PhaseConnecting, true},
		{PhaseConnecting, TriggerDialFailed, PhaseDisconnected, true},
		{PhaseConnecting, TriggerRegistered, PhaseRegistered, true},
		{PhaseConnecting, TriggerAssigned, PhasePlaying, true},
		{PhaseRegistered, TriggerAwait, PhaseAwaitingAssignment, true},
		{PhaseAwaitingAssignment, TriggerAssigned, PhasePlaying, true},
		{PhasePlaying, TriggerAssigned, PhasePlaying, true},
		{PhasePlaying, TriggerGameOver, PhaseClosed, true},
		{PhasePlaying, TriggerSocketError, PhaseClosed, true},
		{PhaseClosed, TriggerClose, PhaseClosed, true},

		{PhaseDisconnected, TriggerAssigned, PhaseDisconnected, false},
		{PhaseRegistered, TriggerConnect, PhaseRegistered, false},
		{PhaseRegistered, TriggerAssigned, PhaseRegistered, false},
		{PhaseAwaitingAssignment, TriggerAwait, PhaseAwaitingAssignment, false},
		{PhasePlaying, TriggerAwait, PhasePlaying, false},
		{PhaseClosed, TriggerConnect, PhaseClosed, false},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.trigger)
		if tc.ok && err != nil {
			t.Fatalf("%s on %s: unexpected error %v", tc.trigger, tc.from, err)
		}
		if !tc.ok && !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s on %s: want ErrIllegalTransition, got %v", tc.trigger, tc.from, err)
		}
		if got != tc.want {
			t.Fatalf("%s on %s: want %s, got %s", tc.trigger, tc.from, tc.want, got)
		}
	}
}

func TestConnectSendsRegister(t *testing.T) {
	d := newScriptedDialer()
	tour := d.serve(tourneyURL)
	b := New(Options{Dialer: d})
	defer b.Close()

	require.NoError(t, b.Connect(context.Background(), "tourney", 5454, "alice", "hunter2"))
	env := tour.next(t)
	assert.Equal(t, types.EventRegister, env.Event)

	var reg types.RegisterData
	require.NoError(t, json.Unmarshal(env.Data, &reg))
	assert.Equal(t, types.RegisterData{Type: "client", Name: "alice", Password: "hunter2"}, reg)
	assert.Equal(t, PhaseAwaitingAssignment, b.Phase())

	first := waitFor[PhaseChanged](t, b, time.Second)
	assert.Equal(t, PhaseChanged{From: PhaseDisconnected, To: PhaseConnecting}, first)
	assert.Equal(t, PhaseChanged{From: PhaseConnecting, To: PhaseRegistered}, waitFor[PhaseChanged](t, b, time.Second))
	assert.Equal(t, PhaseChanged{From: PhaseRegistered, To: PhaseAwaitingAssignment}, waitFor[PhaseChanged](t, b, time.Second))
}

func TestLobbyMessageLeavesPhaseAlone(t *testing.T) {
	b, tour := connectTournament(t, newScriptedDialer())
	require.Equal(t, PhaseAwaitingAssignment, b.Phase())

	tour.push(t, types.EventMessage, "waiting for an opponent")
	msg := waitFor[MessageEvent](t, b, time.Second)
	assert.Equal(t, "waiting for an opponent", msg.Text)

	tour.push(t, types.EventMessage, "still waiting")
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-b.Events():
			switch ev := ev.(type) {
			case PhaseChanged:
				t.Fatalf("message changed phase: %s -> %s", ev.From, ev.To)
			case MessageEvent:
				assert.Equal(t, "still waiting", ev.Text)
				assert.Equal(t, PhaseAwaitingAssignment, b.Phase())
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for second message")
		}
	}
}

func TestPlayHandsOffToGameServer(t *testing.T) {
	d := newScriptedDialer()
	game := d.serve("ws://x:123")
	b, tour := connectTournament(t, d)

	tour.push(t, types.EventPlay, map[string]any{"server": "x", "port": 123, "session": "s1", "playerName": "p"})

	ev := waitFor[AssignmentEvent](t, b, time.Second)
	assert.Equal(t, "x", ev.Assignment.Server)
	assert.Equal(t, 123, ev.Assignment.Port)

	env := game.next(t)
	assert.Equal(t, types.EventPlay, env.Event)
	var req types.PlayRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	assert.Equal(t, "s1", req.RequestedSession)
	assert.Equal(t, "p", req.PlayerName)

	waitPhase(t, b, PhasePlaying)
	assert.Equal(t, []string{tourneyURL, "ws://x:123"}, d.dialed())
	assert.True(t, tour.isClosed(), "tournament socket should be released after hand-off")

	a, ok := b.Assignment()
	require.True(t, ok)
	assert.Equal(t, "s1", a.Session)
}

func TestUnknownEventClosesBridge(t *testing.T) {
	b, tour := connectTournament(t, newScriptedDialer())

	tour.pushRaw(`{"event":"surprise","data":{}}`)
	ev := waitFor[ErrorEvent](t, b, time.Second)
	assert.Equal(t, ConnTournament, ev.Connection)
	assert.ErrorIs(t, ev.Err, ErrProtocol)
	waitPhase(t, b, PhaseClosed)
	assert.True(t, tour.isClosed())
}

func TestMalformedPayloadsAreProtocolErrors(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"no event":        `{"data":1}`,
		"play bad port":   `{"event":"play","data":{"server":"x","port":"123","session":"s1"}}`,
		"message not str": `{"event":"message","data":{"text":"hi"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			b, tour := connectTournament(t, newScriptedDialer())
			tour.pushRaw(raw)
			ev := waitFor[ErrorEvent](t, b, time.Second)
			assert.ErrorIs(t, ev.Err, ErrProtocol)
			waitPhase(t, b, PhaseClosed)
		})
	}
}

func TestTournamentDialFailure(t *testing.T) {
	d := newScriptedDialer()
	d.refuse(tourneyURL, errors.New("no route to host"))
	b := New(Options{Dialer: d})
	defer b.Close()

	err := b.Connect(context.Background(), "tourney", 5454, "alice", "")
	require.Error(t, err)
	assert.Equal(t, PhaseDisconnected, b.Phase())

	ev := waitFor[ErrorEvent](t, b, time.Second)
	assert.Equal(t, ConnTournament, ev.Connection)
}

func TestGameDialFailureAfterAssignment(t *testing.T) {
	d := newScriptedDialer()
	b, tour := connectTournament(t, d)

	tour.push(t, types.EventPlay, types.PlayAssignment{Server: "gone", Port: 1, Session: "s1"})
	ev := waitFor[ErrorEvent](t, b, time.Second)
	assert.Equal(t, ConnGame, ev.Connection)
	waitPhase(t, b, PhaseClosed)
}

func TestRunDeliversReturnedValue(t *testing.T) {
	d := newScriptedDialer()
	game := d.serve("ws://g:3000")
	b := New(Options{Dialer: d})
	defer b.Close()

	_, err := b.Run(context.Background(), "move", nil, nil)
	assert.ErrorIs(t, err, ErrNotPlaying)

	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "g", Port: 3000, Game: "Chess", Session: "*"}))
	game.next(t) // play request
	assert.Equal(t, PhasePlaying, b.Phase())

	got := make(chan any, 1)
	id, err := b.Run(context.Background(), "move", map[string]any{"san": "e4"}, func(v any) { got <- v })
	require.NoError(t, err)

	env := game.next(t)
	assert.Equal(t, types.EventRun, env.Event)
	var run types.RunData
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, id, run.RequestID)
	assert.Equal(t, "e4", run.Args["san"])

	game.push(t, types.EventDelta, deltaWithRan(0, "someone-else", false))
	game.push(t, types.EventDelta, deltaWithRan(1, id, true))

	first := waitFor[TurnEvent](t, b, time.Second)
	assert.Equal(t, 0, first.Snapshot.TurnNumber)
	second := waitFor[TurnEvent](t, b, time.Second)
	assert.Equal(t, 1, second.Snapshot.TurnNumber)

	select {
	case v := <-got:
		assert.Equal(t, true, v)
	case <-time.After(time.Second):
		t.Fatalf("continuation never ran")
	}
	select {
	case v := <-got:
		t.Fatalf("continuation ran twice, second value %v", v)
	default:
	}
}

func TestGameOverClosesBridge(t *testing.T) {
	d := newScriptedDialer()
	game := d.serve("ws://g:3000")
	b := New(Options{Dialer: d})
	defer b.Close()

	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "g", Port: 3000, Session: "s"}))
	game.next(t)

	game.push(t, types.EventOver, types.TextData{Message: "white wins"})
	over := waitFor[OverEvent](t, b, time.Second)
	assert.Equal(t, "white wins", over.Message)
	waitPhase(t, b, PhaseClosed)
	assert.True(t, game.isClosed())
}

func TestFatalIsReportedAsError(t *testing.T) {
	d := newScriptedDialer()
	game := d.serve("ws://g:3000")
	b := New(Options{Dialer: d})
	defer b.Close()

	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "g", Port: 3000, Session: "s"}))
	game.next(t)

	game.push(t, types.EventFatal, types.TextData{Message: "boom"})
	ev := waitFor[ErrorEvent](t, b, time.Second)
	assert.ErrorIs(t, ev.Err, ErrServerFatal)
	waitPhase(t, b, PhaseClosed)
}

func TestGameSocketDropIsNotRetried(t *testing.T) {
	d := newScriptedDialer()
	game := d.serve("ws://g:3000")
	b := New(Options{Dialer: d})
	defer b.Close()

	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "g", Port: 3000, Session: "s"}))
	game.next(t)

	game.fail()
	ev := waitFor[ErrorEvent](t, b, time.Second)
	assert.Equal(t, ConnGame, ev.Connection)
	waitPhase(t, b, PhaseClosed)
	assert.Len(t, d.dialed(), 1)
}

func TestNewAssignmentReplacesGame(t *testing.T) {
	d := newScriptedDialer()
	first := d.serve("ws://g:3000")
	second := d.serve("ws://h:4000")
	b := New(Options{Dialer: d})
	defer b.Close()

	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "g", Port: 3000, Session: "one"}))
	first.next(t)
	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: "h", Port: 4000, Session: "two"}))
	second.next(t)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())
	assert.Equal(t, PhasePlaying, b.Phase())
	a, _ := b.Assignment()
	assert.Equal(t, "two", a.Session)
}

func TestCloseEndsEvents(t *testing.T) {
	d := newScriptedDialer()
	b, tour := connectTournament(t, d)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, PhaseClosed, b.Phase())
	assert.True(t, tour.isClosed())

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-b.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("events channel never closed")
		}
	}
}

func TestWebsocketGameSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		if _, _, err := c.Read(ctx); err != nil {
			return
		}
		for _, msg := range []string{
			`{"event":"lobbied","data":{"gameName":"Chess","gameSession":"7"}}`,
			`{"event":"start","data":{"playerID":"0"}}`,
			`{"event":"delta","data":{"turnNumber":0,"state":{"gameObjects":{"1":{"id":"1","gameObjectName":"Piece"}}}}}`,
			`{"event":"over","data":{"message":"done"}}`,
		} {
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	b := New(Options{Dialer: WebsocketDialer{}, Spectating: true})
	defer b.Close()
	require.NoError(t, b.ConnectGame(context.Background(), types.PlayAssignment{Server: u.Hostname(), Port: port, Game: "Chess", Session: "7"}))

	lobbied := waitFor[LobbyEvent](t, b, 2*time.Second)
	assert.Equal(t, "7", lobbied.Session)
	turn := waitFor[TurnEvent](t, b, 2*time.Second)
	_, ok := turn.Snapshot.State.Object("1")
	assert.True(t, ok)
	waitFor[OverEvent](t, b, 2*time.Second)
	waitPhase(t, b, PhaseClosed)
}
