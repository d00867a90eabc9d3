package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mgomes/jsbridge/jsbridge"
)

// ErrNotRegistered is returned by Mux for identifiers without a route.
var ErrNotRegistered = errors.New("is not registered")

// Mux routes invocations to the dispatcher registered for their identifier.
// It is safe for concurrent use.
// Identifiers without a route go to the default dispatcher when one is set.
type Mux struct {
	mu       sync.RWMutex
	routes   map[string]jsbridge.Dispatcher
	fallback jsbridge.Dispatcher
}

func NewMux() *Mux {
	return &Mux{routes: make(map[string]jsbridge.Dispatcher)}
}

// Handle registers d for identifier, replacing any previous route.
func (m *Mux) Handle(identifier string, d jsbridge.Dispatcher) {
	if identifier == "" {
		panic("dispatch: empty identifier")
	}
	if d == nil {
		panic(fmt.Sprintf("dispatch: nil dispatcher for %q", identifier))
	}
	m.mu.Lock()
	m.routes[identifier] = d
	m.mu.Unlock()
}

// HandleMethods registers a method table for identifier.
func (m *Mux) HandleMethods(identifier string, methods Methods) {
	m.Handle(identifier, methods)
}

// HandleDefault sets the dispatcher for unrouted identifiers.
func (m *Mux) HandleDefault(d jsbridge.Dispatcher) {
	m.mu.Lock()
	m.fallback = d
	m.mu.Unlock()
}

// Identifiers lists registered identifiers in sorted order.
func (m *Mux) Identifiers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.routes))
	for id := range m.routes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Mux) Invoke(ctx context.Context, identifier, method string, payload []byte) ([]byte, error) {
	m.mu.RLock()
	d, ok := m.routes[identifier]
	if !ok {
		d = m.fallback
	}
	m.mu.RUnlock()
	if d == nil {
		return nil, fmt.Errorf("capability %q %w", identifier, ErrNotRegistered)
	}
	return d.Invoke(ctx, identifier, method, payload)
}
