// Package timeline owns the playback position and advances it over wall-clock time.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/DoyleJ11/turncast/internal/engine"
	"github.com/DoyleJ11/turncast/internal/notify"
)

var ErrInvalidArgument = errors.New("invalid argument")

const DefaultSpeed = 1.0

// progress is fixed point: one turn is turnUnits.
const turnUnits int64 = 1_000_000_000

type State int

const (
	Stopped State = iota
	Playing
	Paused
	Seeking
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Seeking:
		return "seeking"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Position is a turn index plus progress toward the next turn, DT in [0,1).
type Position struct {
	TurnIndex int
	DT        float64
}

// Bounds is the part of the delta store the controller needs.
type Bounds interface {
	LastTurnNumber() int
}

type Cause int

const (
	CauseTick Cause = iota
	CauseSeek
)

// Invalidated asks consumers to re-read the resolver for Position.
type Invalidated struct {
	Position Position
	Cause    Cause
}

type StateChanged struct {
	From, To State
}

type Ended struct {
	Position Position
}

// Controller is driven by exactly one goroutine and does no locking.
type Controller struct {
	bounds   Bounds
	turn     int
	progress int64
	speed    float64
	state    State

	OnInvalidate notify.Feed[Invalidated]
	OnState      notify.Feed[StateChanged]
	OnEnded      notify.Feed[Ended]
}

func New(bounds Bounds) *Controller {
	return &Controller{bounds: bounds, speed: DefaultSpeed, state: Stopped}
}

func (c *Controller) Position() Position {
	return Position{TurnIndex: c.turn, DT: float64(c.progress) / float64(turnUnits)}
}

func (c *Controller) State() State   { return c.state }
func (c *Controller) Speed() float64 { return c.speed }
func (c *Controller) AtEnd() bool    { return c.turn >= c.bounds.LastTurnNumber() }

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	from := c.state
	c.state = s
	c.OnState.Publish(StateChanged{From: from, To: s})
}

// Play starts or resumes playback at speed turns per second.
func (c *Controller) Play(speed float64) error {
	if !(speed > 0) || math.IsInf(speed, 0) {
		return fmt.Errorf("%w: speed must be > 0, got %v", ErrInvalidArgument, speed)
	}
	c.speed = speed
	c.setState(Playing)
	return nil
}

func (c *Controller) Pause() {
	c.setState(Paused)
}

// Stop freezes the position without reporting the end of playback.
func (c *Controller) Stop() {
	c.setState(Stopped)
}

// Seek relocates the position. dt is pinned to 0 on the last turn. The
// controller returns to whatever state it was in before the seek.
func (c *Controller) Seek(turn int, dt float64) error {
	last := c.bounds.LastTurnNumber()
	if turn < 0 || turn > last {
		return fmt.Errorf("%w: %d not in [0, %d]", engine.ErrOutOfRange, turn, last)
	}
	if dt < 0 || dt >= 1 || math.IsNaN(dt) {
		return fmt.Errorf("%w: dt must be in [0,1), got %v", ErrInvalidArgument, dt)
	}
	resume := c.state
	c.setState(Seeking)
	c.turn = turn
	c.progress = int64(math.Round(dt * float64(turnUnits)))
	if c.progress >= turnUnits {
		c.progress = turnUnits - 1
	}
	if turn == last {
		c.progress = 0
	}
	c.OnInvalidate.Publish(Invalidated{Position: c.Position(), Cause: CauseSeek})
	c.setState(resume)
	return nil
}

// Tick advances playback by elapsed wall-clock time. Large gaps may cross
// several turns at once; running past the last turn clamps to it with dt 0,
// stops playback and publishes Ended.
func (c *Controller) Tick(elapsed time.Duration) Position {
	if c.state != Playing || elapsed <= 0 {
		return c.Position()
	}
	last := c.bounds.LastTurnNumber()
	if last < 0 {
		// nothing to play yet
		return c.Position()
	}
	advance := math.Round(float64(elapsed) * c.speed)
	remaining := float64(int64(last-c.turn)*turnUnits - c.progress)
	if advance >= remaining {
		c.turn = last
		c.progress = 0
		c.OnInvalidate.Publish(Invalidated{Position: c.Position(), Cause: CauseTick})
		c.setState(Stopped)
		c.OnEnded.Publish(Ended{Position: c.Position()})
		return c.Position()
	}

	c.progress += int64(advance)
	c.turn += int(c.progress / turnUnits)
	c.progress %= turnUnits
	c.OnInvalidate.Publish(Invalidated{Position: c.Position(), Cause: CauseTick})
	return c.Position()
}
