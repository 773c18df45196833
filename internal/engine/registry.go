package engine

import (
	"fmt"

	"github.com/praekeltfoundation/who-smoking-cessation/internal/models"
)

// Constructor builds the state object for one named conversation step, bound
// to the application processing the current message.
type Constructor func(app *App) State

// Registry maps state names to constructors and knows the configured start
// state. The registry is validated at construction so an unresolvable state
// name fails at startup rather than mid-conversation.
type Registry struct {
	start  string
	states map[string]Constructor
}

// successorLister is implemented by states whose onward transitions are
// literal state names known before any message arrives.
type successorLister interface {
	NextStates() []string
}

// NewRegistry builds a validated registry. Every literal successor named by
// any state must itself be registered, and the start state must exist.
func NewRegistry(start string, states map[string]Constructor) (*Registry, error) {
	if start == "" {
		return nil, fmt.Errorf("engine: start state is required")
	}
	if _, ok := states[start]; !ok {
		return nil, fmt.Errorf("engine: start state %q is not registered", start)
	}

	r := &Registry{start: start, states: states}

	probe := models.NewUser("registry-validation")
	for name, build := range states {
		if build == nil {
			return nil, fmt.Errorf("engine: state %q has a nil constructor", name)
		}
		state := build(&App{registry: r, user: &probe})
		lister, ok := state.(successorLister)
		if !ok {
			continue
		}
		for _, next := range lister.NextStates() {
			if next == "" {
				continue
			}
			if _, ok := states[next]; !ok {
				return nil, fmt.Errorf("engine: state %q references unknown state %q", name, next)
			}
		}
	}
	return r, nil
}

// Start returns the configured start-state name.
func (r *Registry) Start() string {
	return r.start
}

func (r *Registry) resolve(name string) (Constructor, error) {
	build, ok := r.states[name]
	if !ok {
		return nil, fmt.Errorf("engine: unknown state %q", name)
	}
	return build, nil
}
