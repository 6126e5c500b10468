// Package resolver pairs every known entity with its state at the resolved turn
// and at the turn after it.
package resolver

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/turncast/internal/engine"
)

// StoreReader is the read side of engine.Store.
type StoreReader interface {
	Get(turn int) (engine.TurnSnapshot, error)
	LastTurnNumber() int
}

type Options struct {
	// Retention is how many turns a proxy outside the resolved pair keeps its
	// identity (and renderer). Zero keeps it for the whole session.
	Retention int
	Logger    *zap.Logger
}

// Frame is everything a renderer needs for one resolved position.
type Frame struct {
	TurnIndex  int
	NextIndex  int
	Current    engine.GameState
	Next       engine.GameState
	Reason     engine.Reason
	NextReason engine.Reason
	Entities   []*Proxy // live proxies, ordered by id
}

type Resolver struct {
	store    StoreReader
	registry *Registry
	opts     Options
	log      *zap.Logger
	proxies  map[string]*Proxy
}

func New(store StoreReader, registry *Registry, opts Options) *Resolver {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		store:    store,
		registry: registry,
		opts:     opts,
		log:      log.Named("resolver"),
		proxies:  make(map[string]*Proxy),
	}
}

// Resolve updates every proxy for the pair (turnIndex, turnIndex+1). The next
// turn is clamped to the last stored turn, so at the tail Next equals Current.
func (r *Resolver) Resolve(turnIndex int) (Frame, error) {
	cur, err := r.store.Get(turnIndex)
	if err != nil {
		return Frame{}, err
	}
	nextIndex := min(turnIndex+1, r.store.LastTurnNumber())
	next := cur
	if nextIndex != turnIndex {
		if next, err = r.store.Get(nextIndex); err != nil {
			return Frame{}, err
		}
	}

	frame := Frame{
		TurnIndex:  turnIndex,
		NextIndex:  nextIndex,
		Current:    cur.State,
		Next:       next.State,
		Reason:     cur.Reason,
		NextReason: next.Reason,
	}

	seen := make(map[string]struct{}, len(cur.State.Objects)+len(next.State.Objects))
	for id := range cur.State.Objects {
		seen[id] = struct{}{}
	}
	for id := range next.State.Objects {
		seen[id] = struct{}{}
	}

	for id := range seen {
		p := r.proxies[id]
		if p == nil {
			p = r.newProxy(id, cur.State.Objects[id], next.State.Objects[id])
			r.proxies[id] = p
		}
		p.Current = cur.State.Objects[id]
		p.Next = next.State.Objects[id]
		p.Reason = cur.Reason
		p.NextReason = next.Reason
		p.lastSeen = turnIndex
		frame.Entities = append(frame.Entities, p)
	}

	for id, p := range r.proxies {
		if _, ok := seen[id]; ok {
			continue
		}
		p.Current, p.Next = nil, nil
		p.Reason, p.NextReason = nil, nil
		if r.opts.Retention > 0 && abs(turnIndex-p.lastSeen) > r.opts.Retention {
			delete(r.proxies, id)
		}
	}

	slices.SortFunc(frame.Entities, func(a, b *Proxy) int { return strings.Compare(a.ID, b.ID) })
	return frame, nil
}

func (r *Resolver) newProxy(id string, cur, next engine.GameObjectState) *Proxy {
	typeName := cur.TypeName()
	if typeName == "" {
		typeName = next.TypeName()
	}
	if r.registry != nil && !r.registry.Known(typeName) {
		r.log.Debug("no renderer registered", zap.String("typeName", typeName), zap.String("id", id))
	}
	return &Proxy{
		ID:       id,
		TypeName: typeName,
		Renderer: r.registry.Build(typeName, id),
	}
}

// Proxy returns the tracked proxy for id, live or dormant.
func (r *Resolver) Proxy(id string) (*Proxy, bool) {
	p, ok := r.proxies[id]
	return p, ok
}

// Tracked is the number of proxies currently held, including dormant ones.
func (r *Resolver) Tracked() int { return len(r.proxies) }

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
