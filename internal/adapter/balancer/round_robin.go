package balancer

import (
	"context"
	"sync/atomic"

	"github.com/openjproxy/ojp/internal/core/domain"
)

type RoundRobinSelector struct {
	counter uint64
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (r *RoundRobinSelector) Name() string {
	return DefaultBalancerRoundRobin
}

// Select chooses endpoints in a round-robin fashion, filtering out unhealthy endpoints
func (r *RoundRobinSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, domain.NewError(domain.KindNoHealthyServer, "no endpoints available")
	}

	healthy := make([]*domain.Endpoint, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if endpoint.Healthy() {
			healthy = append(healthy, endpoint)
		}
	}

	if len(healthy) == 0 {
		return nil, domain.NewError(domain.KindNoHealthyServer, "no healthy endpoints available")
	}

	current := atomic.AddUint64(&r.counter, 1) - 1 // Subtract 1 to start from 0
	index := current % uint64(len(healthy))

	return healthy[index], nil
}
