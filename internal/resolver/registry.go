package resolver

import "sync"

// Renderer is whatever a consumer builds to draw one entity. The resolver only
// constructs and hands it back; drawing happens outside this module.
type Renderer interface{}

// Factory builds the renderer for a newly observed entity.
type Factory func(id string) Renderer

// Registry maps a game object's typeName to the factory for its renderer.
// Register everything at startup; lookups afterwards are a single map read.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	fallback  Factory
}

// NewRegistry returns a registry whose unknown type names use fallback.
// A nil fallback yields nil renderers for unknown types.
func NewRegistry(fallback Factory) *Registry {
	return &Registry{factories: map[string]Factory{}, fallback: fallback}
}

func (r *Registry) Register(typeName string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[typeName] = f
}

func (r *Registry) Build(typeName, id string) Renderer {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	f, ok := r.factories[typeName]
	r.mu.RUnlock()
	if !ok {
		f = r.fallback
	}
	if f == nil {
		return nil
	}
	return f(id)
}

func (r *Registry) Known(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeName]
	return ok
}
