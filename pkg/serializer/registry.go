package serializer

import "sync"

// Factory constructs a fresh strategy instance.
type Factory func() Serializer

// Registry maps serializer wire names to factories. Resolving an unknown
// name is an *UnknownSerializerError, never a silent fallback.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in strategies:
// "fossil-delta", "schema" and "full".
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NameFossilDelta, func() Serializer { return NewFossilDelta(nil) })
	r.Register(NameSchema, func() Serializer { return NewSchema(nil) })
	r.Register(NameFullSnapshot, func() Serializer { return NewFullSnapshot() })
	return r
}

// Register binds name to factory, replacing any prior entry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// New constructs a fresh strategy for name.
func (r *Registry) New(name string) (Serializer, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownSerializerError{Name: name}
	}
	return factory(), nil
}

// Names returns the registered serializer names in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
