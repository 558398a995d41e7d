// Package balancer selects an endpoint for brand-new sessions. Sticky
// sessions never pass through here; their endpoint is fixed at bind time.
package balancer

import (
	"fmt"
	"sync"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
)

const (
	DefaultBalancerLeastSessions = "least-sessions"
	DefaultBalancerRoundRobin    = "round-robin"
)

// SessionCounter exposes the per-endpoint bound-session count the
// load-aware policy reads. Implemented by the session tracker.
type SessionCounter interface {
	CountFor(endpoint *domain.Endpoint) int
}

type Factory struct {
	counter   SessionCounter
	selectors map[string]func() ports.EndpointSelector
	mu        sync.RWMutex
}

func NewFactory(counter SessionCounter) *Factory {
	f := &Factory{
		counter:   counter,
		selectors: make(map[string]func() ports.EndpointSelector),
	}
	f.selectors[DefaultBalancerLeastSessions] = func() ports.EndpointSelector {
		return NewLeastSessionsSelector(counter)
	}
	f.selectors[DefaultBalancerRoundRobin] = func() ports.EndpointSelector {
		return NewRoundRobinSelector()
	}
	return f
}

func (f *Factory) Create(name string) (ports.EndpointSelector, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	create, exists := f.selectors[name]
	if !exists {
		return nil, fmt.Errorf("unknown balancer: %s", name)
	}
	return create(), nil
}

func (f *Factory) Available() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.selectors))
	for name := range f.selectors {
		names = append(names, name)
	}
	return names
}
