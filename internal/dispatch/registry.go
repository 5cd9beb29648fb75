package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AllEvents matches every event name.
const AllEvents = "*"

// ErrFrozen is returned by Register after Freeze.
var ErrFrozen = errors.New("registry is frozen")

// HandlerFunc handles one dispatched request. Setting hc.Response ends the chain.
type HandlerFunc func(ctx context.Context, hc *Context) error

// Registration binds a handler to a receiver, optionally narrowed to one
// sub-id and a set of events.
type Registration struct {
	// Name identifies the handler in logs.
	Name string
	// ID restricts the registration to one sub-id. Empty matches any.
	ID string
	// Events restricts the registration to these event names. Empty or "*" matches any.
	Events  []string
	Handler HandlerFunc
}

func (r Registration) matches(id string, events []string) bool {
	if r.ID != "" && !strings.EqualFold(r.ID, id) {
		return false
	}
	if len(r.Events) == 0 {
		return true
	}
	for _, want := range r.Events {
		if want == AllEvents {
			return true
		}
		for _, got := range events {
			if strings.EqualFold(want, got) {
				return true
			}
		}
	}
	return false
}

// Registry holds handler registrations keyed by receiver name.
type Registry struct {
	mu         sync.RWMutex
	frozen     bool
	byReceiver map[string][]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byReceiver: make(map[string][]Registration)}
}

// Register appends a registration for receiver.
func (r *Registry) Register(receiver string, reg Registration) error {
	if reg.Handler == nil {
		return fmt.Errorf("register %q: nil handler", receiver)
	}
	name := strings.ToLower(strings.TrimSpace(receiver))
	if name == "" {
		return fmt.Errorf("register: empty receiver name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	if reg.Name == "" {
		reg.Name = fmt.Sprintf("%s#%d", name, len(r.byReceiver[name]))
	}
	reg.Events = append([]string(nil), reg.Events...)
	r.byReceiver[name] = append(r.byReceiver[name], reg)
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Registered reports whether receiver has at least one registration.
func (r *Registry) Registered(receiver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byReceiver[strings.ToLower(receiver)]) > 0
}

// Receivers returns the names of all receivers with registrations, sorted.
func (r *Registry) Receivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byReceiver))
	for name, regs := range r.byReceiver {
		if len(regs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Match returns the registrations for receiver that accept id and events,
// in registration order.
func (r *Registry) Match(receiver, id string, events []string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Registration
	for _, reg := range r.byReceiver[strings.ToLower(receiver)] {
		if reg.matches(id, events) {
			out = append(out, reg)
		}
	}
	return out
}
