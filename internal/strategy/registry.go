package strategy

import (
	"fmt"
	"sync"
)

// Factory builds a strategy module instance.
type Factory func() (Strategy, error)

// Registry resolves strategy modules by the name a portfolio is configured
// with. Instances are built lazily on first load and cached for the life of
// the process; reads vastly outnumber writes.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	loaded    map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		loaded:    make(map[string]Strategy),
	}
}

// Register installs a factory under a module name. Call at startup, before
// the trader loop runs.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Load returns the cached instance for a module, building it on first use.
func (r *Registry) Load(name string) (Strategy, error) {
	r.mu.RLock()
	s, ok := r.loaded[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.loaded[name]; ok {
		return s, nil
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy module %q", name)
	}
	s, err := f()
	if err != nil {
		return nil, fmt.Errorf("loading strategy module %q: %w", name, err)
	}
	r.loaded[name] = s
	return s, nil
}

// Builtin returns a registry preloaded with the modules that ship in-tree.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("equity_hours", func() (Strategy, error) {
		return equityHours{}, nil
	})
	return r
}
