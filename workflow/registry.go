package workflow

import (
	"fmt"
	"sync"
)

// Decider computes the next commands for a workflow from its context and
// history. Deciders must be pure: no I/O, no clocks, no randomness — the
// engine re-invokes them on every tick that carries new facts, and replay
// correctness requires that the same inputs always produce the same
// commands. The engine passes deep copies, so mutating the arguments has no
// effect on persisted state.
type Decider func(ctx Value, history []Event) ([]Command, error)

// Registry resolves decider names to deciders. A workflow records its
// decider by name so any worker process holding an equivalent registry can
// tick it. Registries are engine-scoped; nothing is global.
type Registry struct {
	mu       sync.RWMutex
	deciders map[string]Decider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{deciders: make(map[string]Decider)}
}

// Register adds a named decider. Registering the same name twice is an
// error.
func (r *Registry) Register(name string, d Decider) error {
	if name == "" {
		return fmt.Errorf("decider name is required")
	}
	if d == nil {
		return fmt.Errorf("decider %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.deciders[name]; ok {
		return fmt.Errorf("decider %q already registered", name)
	}
	r.deciders[name] = d
	return nil
}

// Lookup returns the named decider and whether it exists.
func (r *Registry) Lookup(name string) (Decider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deciders[name]
	return d, ok
}

// Names returns the registered decider names. Intended for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.deciders))
	for name := range r.deciders {
		names = append(names, name)
	}
	return names
}
