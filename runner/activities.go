package runner

import (
	"context"
	"fmt"
	"sync"

	"goa.design/ratchet/workflow"
)

// ActivityFunc is one user-defined activity implementation. It receives the
// input recorded in the task's code payload and returns the result to record.
// Activities run at-least-once: a crash between execution and completion
// re-runs them under a new lease, so side effects should be idempotent (use
// the task's idempotency key when the external system supports one).
type ActivityFunc func(ctx context.Context, input workflow.Value) (workflow.Value, error)

// Activities maps action names to implementations. Registries are
// runner-scoped and injected; nothing is global, so two runners in one
// process can serve disjoint activity sets.
type Activities struct {
	mu    sync.RWMutex
	funcs map[string]ActivityFunc
}

// NewActivities returns an empty registry.
func NewActivities() *Activities {
	return &Activities{funcs: make(map[string]ActivityFunc)}
}

// Register adds a named activity. Registering the same name twice is an
// error.
func (a *Activities) Register(name string, fn ActivityFunc) error {
	if name == "" {
		return fmt.Errorf("activity name is required")
	}
	if fn == nil {
		return fmt.Errorf("activity %q is nil", name)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.funcs[name]; ok {
		return fmt.Errorf("activity %q already registered", name)
	}
	a.funcs[name] = fn
	return nil
}

// Lookup returns the named activity and whether it exists.
func (a *Activities) Lookup(name string) (ActivityFunc, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn, ok := a.funcs[name]
	return fn, ok
}

// Names returns the registered activity names. Intended for diagnostics.
func (a *Activities) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.funcs))
	for name := range a.funcs {
		names = append(names, name)
	}
	return names
}
