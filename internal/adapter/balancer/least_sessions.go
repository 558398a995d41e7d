package balancer

import (
	"context"
	"sync/atomic"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// LeastSessionsSelector picks the healthy endpoint with the fewest bound
// sessions. When every candidate carries the same load the choice degrades
// to round-robin so a cold fleet is filled evenly instead of hammering the
// first endpoint.
type LeastSessionsSelector struct {
	counter  SessionCounter
	roundSeq uint64
}

func NewLeastSessionsSelector(counter SessionCounter) *LeastSessionsSelector {
	return &LeastSessionsSelector{counter: counter}
}

func (l *LeastSessionsSelector) Name() string {
	return DefaultBalancerLeastSessions
}

func (l *LeastSessionsSelector) Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error) {
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

	counts := make([]int, len(healthy))
	allEqual := true
	for i, endpoint := range healthy {
		counts[i] = l.counter.CountFor(endpoint)
		if counts[i] != counts[0] {
			allEqual = false
		}
	}

	// Uniform load carries no signal; fall back to round-robin so the
	// selection still cycles. The counter only advances on this path.
	if allEqual {
		current := atomic.AddUint64(&l.roundSeq, 1) - 1
		return healthy[current%uint64(len(healthy))], nil
	}

	selected := healthy[0]
	minCount := counts[0]
	for i := 1; i < len(healthy); i++ {
		if counts[i] < minCount {
			minCount = counts[i]
			selected = healthy[i]
		}
	}

	return selected, nil
}
