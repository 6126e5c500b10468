package resolver

import "github.com/DoyleJ11/turncast/internal/engine"

// Proxy is the long-lived local handle for one server-side game object.
// Current and Next reference the stored snapshots; they are never copies and
// must not be mutated. A nil half means the entity does not exist at that end
// of the interpolation.
type Proxy struct {
	ID       string
	TypeName string
	Renderer Renderer

	Current    engine.GameObjectState
	Next       engine.GameObjectState
	Reason     engine.Reason
	NextReason engine.Reason

	lastSeen int
}

func (p *Proxy) Alive() bool { return p.Current != nil || p.Next != nil }

// Creating reports an entity that appears at the next turn.
func (p *Proxy) Creating() bool { return p.Current == nil && p.Next != nil }

// Destroying reports an entity that is gone at the next turn.
func (p *Proxy) Destroying() bool { return p.Current != nil && p.Next == nil }

// Lerp linearly interpolates a numeric attribute. When one half is absent the
// present half's value is returned unchanged.
func (p *Proxy) Lerp(attr string, dt float64) (float64, bool) {
	a, aok := number(p.Current, attr)
	b, bok := number(p.Next, attr)
	switch {
	case aok && bok:
		return a + (b-a)*dt, true
	case aok:
		return a, true
	case bok:
		return b, true
	}
	return 0, false
}

// Value returns the attribute from current before the midpoint of the turn and
// from next after it, falling back to whichever half exists.
func (p *Proxy) Value(attr string, dt float64) any {
	first, second := p.Current, p.Next
	if dt >= 0.5 {
		first, second = second, first
	}
	if first != nil {
		if v, ok := first[attr]; ok {
			return v
		}
	}
	if second != nil {
		return second[attr]
	}
	return nil
}

func number(obj engine.GameObjectState, attr string) (float64, bool) {
	if obj == nil {
		return 0, false
	}
	switch v := obj[attr].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
