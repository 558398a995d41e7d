// Package registry holds the client-side repository state of the multinode
// core: the known endpoints with their health, and the session/connection
// bindings that deliver stickiness.
package registry

import (
	"sync"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// EndpointRegistry is the set of known proxy nodes. Endpoints are added at
// construction from the connection URL and never removed; health state lives
// on the endpoint itself.
type EndpointRegistry struct {
	mu        sync.RWMutex
	endpoints map[string]*domain.Endpoint
	order     []string
}

func NewEndpointRegistry(endpoints ...*domain.Endpoint) *EndpointRegistry {
	r := &EndpointRegistry{
		endpoints: make(map[string]*domain.Endpoint, len(endpoints)),
	}
	for _, e := range endpoints {
		r.add(e)
	}
	return r
}

func (r *EndpointRegistry) Add(endpoint *domain.Endpoint) {
	if endpoint == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(endpoint)
}

func (r *EndpointRegistry) add(endpoint *domain.Endpoint) {
	if _, exists := r.endpoints[endpoint.Key()]; exists {
		return
	}
	r.endpoints[endpoint.Key()] = endpoint
	r.order = append(r.order, endpoint.Key())
}

// Get returns the endpoint for a host:port key.
func (r *EndpointRegistry) Get(key string) (*domain.Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[key]
	return e, ok
}

// GetAll returns every known endpoint in registration order.
func (r *EndpointRegistry) GetAll() []*domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Endpoint, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.endpoints[key])
	}
	return out
}

// GetHealthy returns the healthy subset in registration order.
func (r *EndpointRegistry) GetHealthy() []*domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Endpoint, 0, len(r.order))
	for _, key := range r.order {
		if e := r.endpoints[key]; e.Healthy() {
			out = append(out, e)
		}
	}
	return out
}

// GetUnhealthy returns the unhealthy subset in registration order.
func (r *EndpointRegistry) GetUnhealthy() []*domain.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Endpoint, 0, len(r.order))
	for _, key := range r.order {
		if e := r.endpoints[key]; !e.Healthy() {
			out = append(out, e)
		}
	}
	return out
}

func (r *EndpointRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
