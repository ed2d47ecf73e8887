package executor

import (
	"fmt"
	"sync"

	"github.com/actflow/actflow/pkg/models"
)

// Registry maps action kinds (the node "uses" value) to handlers.
// Registration is thread-safe; later registrations replace earlier ones.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry. Built-in handlers are registered
// separately by the builtin package to avoid import cycles.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for an action kind.
func (r *Registry) Register(uses string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if uses == "" {
		return fmt.Errorf("action kind cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.handlers[uses] = handler
	return nil
}

// Get retrieves the handler for an action kind.
func (r *Registry) Get(uses string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[uses]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrHandlerNotFound, uses)
	}
	return handler, nil
}

// Has checks whether a handler is registered for the given action kind.
func (r *Registry) Has(uses string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[uses]
	return ok
}

// List returns all registered action kinds.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for uses := range r.handlers {
		kinds = append(kinds, uses)
	}
	return kinds
}

// Unregister removes the handler for an action kind.
func (r *Registry) Unregister(uses string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[uses]; !ok {
		return fmt.Errorf("%w: %s", models.ErrHandlerNotFound, uses)
	}
	delete(r.handlers, uses)
	return nil
}
