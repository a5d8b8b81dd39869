// Package actions holds the action registry and the built-in step actions.
package actions

import (
	"sort"
	"sync"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// Handler performs one step. Failures are reported in the result, never panicked.
type Handler interface {
	Execute(sc *Context, params []string) *core.CommandResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(sc *Context, params []string) *core.CommandResult

// Execute calls f.
func (f HandlerFunc) Execute(sc *Context, params []string) *core.CommandResult {
	return f(sc, params)
}

// Action describes a registered action.
type Action struct {
	Name        string
	Description string
	Usage       string // e.g. "fill <selector> <value>"
	Handler     Handler
	Builtin     bool
	Source      string // plugin file for non-builtin actions
}

// Registry maps action names to handlers. Names are unique: a second
// registration under the same name is rejected instead of replacing the first.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]*Action)}
}

// NewBuiltinRegistry creates a registry holding every built-in action.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	for _, a := range Builtins() {
		if err := r.Register(a); err != nil {
			panic(err) // builtin names are unique
		}
	}
	return r
}

// Register adds an action.
func (r *Registry) Register(a *Action) error {
	if a == nil || a.Name == "" {
		return core.ErrInvalidConfig.WithMessage("action name is required")
	}
	if a.Handler == nil {
		return core.ErrInvalidConfig.WithMessagef("action %q has no handler", a.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.actions[a.Name]; ok {
		owner := existing.Source
		if existing.Builtin {
			owner = "builtin"
		}
		return core.ErrDuplicateAction.WithMessagef("action %q already registered by %s", a.Name, owner)
	}
	r.actions[a.Name] = a
	return nil
}

// Resolve returns the handler for name.
func (r *Registry) Resolve(name string) (Handler, bool) {
	a, ok := r.Get(name)
	if !ok {
		return nil, false
	}
	return a.Handler, true
}

// Get returns the action registered under name.
func (r *Registry) Get(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all actions sorted by name.
func (r *Registry) List() []*Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
