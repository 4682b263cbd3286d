package scenario

import (
	"fmt"
	"iter"
	"sync"
)

// DuplicateScenarioError is returned when registering an ID twice.
type DuplicateScenarioError struct{ ID string }

func (e *DuplicateScenarioError) Error() string {
	return fmt.Sprintf("scenario %q already registered", e.ID)
}

// NotFoundError is returned for lookups of unknown scenario IDs.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scenario %q not found", e.ID)
}

// Registry holds scenario specs in registration order.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register validates the spec and adds it to the registry.
func (r *Registry) Register(s *Spec) error {
	if s == nil || s.ID == "" {
		return invalidf("spec has no id")
	}
	if s.Graph == nil {
		return invalidf("spec %q has no graph", s.ID)
	}
	// Re-validate: specs built literally (not via NewGraph) must not slip
	// an unvalidated graph into the registry.
	g, err := NewGraph(s.Graph.Nodes, s.Graph.Edges)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[s.ID]; exists {
		return &DuplicateScenarioError{ID: s.ID}
	}
	cp := *s
	cp.Graph = g
	r.specs[s.ID] = &cp
	r.order = append(r.order, s.ID)
	return nil
}

// Get returns the spec registered under id.
func (r *Registry) Get(id string) (*Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return s, nil
}

// Len reports how many scenarios are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List yields all registered specs in registration order. The sequence is
// restartable: each range starts from the beginning.
func (r *Registry) List() iter.Seq[*Spec] {
	return func(yield func(*Spec) bool) {
		r.mu.RLock()
		ids := make([]string, len(r.order))
		copy(ids, r.order)
		r.mu.RUnlock()
		for _, id := range ids {
			r.mu.RLock()
			s := r.specs[id]
			r.mu.RUnlock()
			if !yield(s) {
				return
			}
		}
	}
}
