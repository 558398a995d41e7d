package ports

import (
	"context"
	"time"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// EndpointSelector chooses an endpoint for a brand-new session. Selection is
// side-effect-free except for advancing an internal round-robin counter.
type EndpointSelector interface {
	Select(ctx context.Context, endpoints []*domain.Endpoint) (*domain.Endpoint, error)
	Name() string
}

// Prober performs a best-effort health probe against one endpoint. A probe is
// a real connect round-trip with minimal credentials; any error means the
// probe failed.
type Prober interface {
	Probe(ctx context.Context, endpoint *domain.Endpoint) error
}

// TrackedConn is a client-side pooled connection the redistributor can
// invalidate. MarkInvalid flags the connection so the owning pool discards it
// on return; Close tears it down immediately.
type TrackedConn interface {
	ConnHash() string
	Endpoint() *domain.Endpoint
	InUse() bool
	IdleSince() time.Time
	MarkInvalid()
	Close() error
}

// HealthListener receives endpoint health transitions. Invocations are
// synchronous from the monitor's goroutine and must not block.
type HealthListener interface {
	OnEndpointUnhealthy(endpoint *domain.Endpoint)
	OnEndpointRecovered(endpoint *domain.Endpoint)
}
