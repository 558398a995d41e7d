package failover

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openjproxy/ojp/internal/adapter/channel"
	"github.com/openjproxy/ojp/internal/adapter/health"
	"github.com/openjproxy/ojp/internal/adapter/registry"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/eventbus"
)

const (
	DefaultMaxClosePerRecovery   = 100
	DefaultIdleRebalanceFraction = 1.0
)

type Options struct {
	// RedistributionEnabled gates the rebalance pass on recovery; failure
	// handling always runs.
	RedistributionEnabled bool
	XAMode                bool
	MaxClosePerRecovery   int
	IdleRebalanceFraction float64
}

func (o *Options) withDefaults() {
	if o.MaxClosePerRecovery <= 0 {
		o.MaxClosePerRecovery = DefaultMaxClosePerRecovery
	}
	if o.IdleRebalanceFraction <= 0 || o.IdleRebalanceFraction > 1 {
		o.IdleRebalanceFraction = DefaultIdleRebalanceFraction
	}
}

// Handler performs the failure and recovery bookkeeping. It has no
// back-pointer into the manager; health transitions arrive through the
// event bus.
type Handler struct {
	registry *registry.EndpointRegistry
	tracker  *registry.SessionTracker
	channels *channel.Cache
	conns    *Connections
	opts     Options

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger *logger.StyledLogger
}

func NewHandler(
	reg *registry.EndpointRegistry,
	tracker *registry.SessionTracker,
	channels *channel.Cache,
	conns *Connections,
	opts Options,
	log *logger.StyledLogger,
) *Handler {
	opts.withDefaults()
	return &Handler{
		registry: reg,
		tracker:  tracker,
		channels: channels,
		conns:    conns,
		opts:     opts,
		now:      time.Now,
		logger:   log,
	}
}

// Start subscribes to health events and dispatches them until ctx ends.
func (h *Handler) Start(ctx context.Context, bus *eventbus.Bus[health.Event]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})

	events, cancel := bus.Subscribe(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				switch event.Kind {
				case health.EndpointUnhealthy:
					h.HandleFailure(event.Endpoint, nil)
				case health.EndpointRecovered:
					h.HandleRecovery(event.Endpoint)
				}
			}
		}
	}()
}

func (h *Handler) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return
	}
	close(h.stopCh)
	h.wg.Wait()
	h.running = false
}

// HandleFailure evicts everything tied to a failed endpoint: the channel
// entry, every session binding, and every tracked open connection. Safe to
// call for an endpoint that is already down.
func (h *Handler) HandleFailure(endpoint *domain.Endpoint, cause error) {
	if endpoint == nil {
		return
	}

	endpoint.MarkUnhealthy(h.now().UnixNano())
	h.channels.Invalidate(endpoint)

	dropped := h.tracker.InvalidateEndpoint(endpoint)
	if len(dropped) > 0 {
		h.logger.WarnWithEndpoint("Dropped session bindings for failed endpoint", endpoint.Key(),
			"sessions", len(dropped))
	}

	invalidated := 0
	for _, t := range h.conns.ForEndpoint(endpoint) {
		h.conns.Invalidate(t)
		invalidated++
	}

	h.logger.WarnUnhealthy("Endpoint failure handled", endpoint.Key(),
		"sessions_dropped", len(dropped),
		"connections_invalidated", invalidated,
		"cause", cause)
}

// HandleRecovery runs one rebalance pass after an endpoint comes back. The
// recovered endpoint is exempt from invalidation; the surviving endpoints
// shed connections down to the per-endpoint target and the client pool
// refills across the whole fleet through the load-aware selector, so the
// census converges toward N/|H| eventually.
func (h *Handler) HandleRecovery(recovered *domain.Endpoint) {
	if recovered == nil || !h.opts.XAMode || !h.opts.RedistributionEnabled {
		return
	}

	healthy := h.registry.GetHealthy()
	total := h.conns.Total()
	if len(healthy) == 0 || total == 0 {
		return
	}

	target := total / len(healthy)
	remainder := total % len(healthy)

	// Survivors first, recovered last, deterministic within each group: the
	// remainder slots land on survivors so the pass never over-trims.
	ordered := make([]*domain.Endpoint, 0, len(healthy))
	for _, e := range healthy {
		if e.Key() != recovered.Key() {
			ordered = append(ordered, e)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Key() < ordered[j].Key() })
	ordered = append(ordered, recovered)

	budget := h.opts.MaxClosePerRecovery
	closed := 0

	for i, endpoint := range ordered {
		if budget <= 0 {
			break
		}
		if endpoint.Key() == recovered.Key() {
			continue
		}

		quota := target
		if i < remainder {
			quota++
		}

		tracked := h.conns.ForEndpoint(endpoint)
		excess := len(tracked) - quota
		if excess <= 0 {
			continue
		}

		idle := make([]Tracked, 0, len(tracked))
		for _, t := range tracked {
			if !t.Conn.InUse() {
				idle = append(idle, t)
			}
		}
		// Oldest idle first; they are the cheapest to recycle.
		sort.Slice(idle, func(a, b int) bool {
			return idle[a].Conn.IdleSince().Before(idle[b].Conn.IdleSince())
		})

		allowed := int(h.opts.IdleRebalanceFraction * float64(len(idle)))
		if excess > allowed {
			excess = allowed
		}
		if excess > budget {
			excess = budget
		}

		for _, t := range idle[:excess] {
			h.conns.Invalidate(t)
		}
		budget -= excess
		closed += excess
	}

	h.logger.InfoWithEndpoint("Rebalanced connections after recovery of", recovered.Key(),
		"total_connections", total,
		"healthy_endpoints", len(healthy),
		"target_per_endpoint", target,
		"invalidated", closed)
}
