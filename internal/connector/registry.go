package connector

import "sync"

// Registry is an ordered set of connectors. Match returns the first connector,
// in registration order, whose CanHandle accepts the text.
type Registry struct {
	mu         sync.RWMutex
	connectors []Connector
}

// NewRegistry returns a registry holding the given connectors in order.
func NewRegistry(connectors ...Connector) *Registry {
	return &Registry{connectors: append([]Connector(nil), connectors...)}
}

// Register appends c at the lowest priority.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors = append(r.connectors, c)
}

// Match returns the first connector that claims text, or nil.
func (r *Registry) Match(text string) Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.connectors {
		if c.CanHandle(text) {
			return c
		}
	}
	return nil
}

// List returns the descriptors of all connectors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, len(r.connectors))
	for i, c := range r.connectors {
		out[i] = c.Descriptor()
	}
	return out
}

// Names returns the connector names in registration order.
func (r *Registry) Names() []string {
	descs := r.List()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
