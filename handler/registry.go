package handler

import (
	"errors"
	"fmt"
	"sync"

	"github.com/graniteshield/outbox/event"
)

var (
	// ErrNotRegistered is returned by Resolve when no handler is registered
	// for an action. The dispatcher treats it as a configuration failure.
	ErrNotRegistered = errors.New("outbox: no handler registered")

	// ErrInvalidRegistration is returned for an invalid action or nil handler.
	ErrInvalidRegistration = errors.New("outbox: invalid handler registration")
)

// Registry maps actions to handlers. It holds no per-record state.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Action]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[event.Action]Handler)}
}

// Register stores h for action a. Registering an action again replaces the
// previous handler.
func (r *Registry) Register(a event.Action, h Handler) error {
	if !a.Valid() || h == nil {
		return fmt.Errorf("%w: %s", ErrInvalidRegistration, a)
	}
	r.mu.Lock()
	r.handlers[a] = h
	r.mu.Unlock()
	return nil
}

// Resolve returns the handler for a.
func (r *Registry) Resolve(a event.Action) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[a]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, a)
	}
	return h, nil
}

// Actions returns the registered actions in declaration order.
func (r *Registry) Actions() []event.Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]event.Action, 0, len(r.handlers))
	for _, a := range event.Actions() {
		if _, ok := r.handlers[a]; ok {
			out = append(out, a)
		}
	}
	return out
}
