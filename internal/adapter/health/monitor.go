// Package health runs the periodic, best-effort probing of proxy endpoints
// and publishes health transitions on the event bus. The monitor never
// touches sessions or channels itself; the failover handler subscribes and
// does that bookkeeping.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openjproxy/ojp/internal/adapter/registry"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/eventbus"
)

const (
	DefaultInterval     = 5 * time.Second
	DefaultThreshold    = 5 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

type EventKind int

const (
	EndpointUnhealthy EventKind = iota
	EndpointRecovered
)

func (k EventKind) String() string {
	if k == EndpointRecovered {
		return "endpoint-recovered"
	}
	return "endpoint-unhealthy"
}

// Event is one health transition observed by the monitor. Events are
// published in observation order.
type Event struct {
	Kind     EventKind
	Endpoint *domain.Endpoint
}

type Options struct {
	Interval     time.Duration
	Threshold    time.Duration
	ProbeTimeout time.Duration
	// XAMode additionally probes currently-healthy endpoints each pass, so
	// a dead node is noticed before a transaction RPC trips over it.
	XAMode bool
}

func (o *Options) withDefaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = DefaultProbeTimeout
	}
}

// Monitor is one cooperative probing task per multinode manager.
type Monitor struct {
	registry *registry.EndpointRegistry
	prober   ports.Prober
	bus      *eventbus.Bus[Event]
	opts     Options

	lastCheck atomic.Int64
	probing   atomic.Bool

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger *logger.StyledLogger
}

func NewMonitor(reg *registry.EndpointRegistry, prober ports.Prober, bus *eventbus.Bus[Event], opts Options, log *logger.StyledLogger) *Monitor {
	opts.withDefaults()
	return &Monitor{
		registry: reg,
		prober:   prober,
		bus:      bus,
		opts:     opts,
		now:      time.Now,
		logger:   log,
	}
}

func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go m.loop(ctx)

	m.logger.Info("Health monitor started",
		"interval", m.opts.Interval,
		"threshold", m.opts.Threshold,
		"xa_mode", m.opts.XAMode)
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow runs one probing pass. Guarded so overlapping triggers (the timer
// plus a last-resort recovery request from the selector path) skip instead
// of stacking up.
func (m *Monitor) CheckNow(ctx context.Context) {
	if !m.probing.CompareAndSwap(false, true) {
		return
	}
	defer m.probing.Store(false)

	now := m.now()
	m.lastCheck.Store(now.UnixNano())

	if m.opts.XAMode {
		for _, endpoint := range m.registry.GetHealthy() {
			if err := m.probe(ctx, endpoint); err != nil {
				endpoint.MarkUnhealthy(m.now().UnixNano())
				m.logger.WarnUnhealthy("Endpoint failed probe", endpoint.Key(), "error", err)
				m.bus.Publish(Event{Kind: EndpointUnhealthy, Endpoint: endpoint})
			}
		}
	}

	for _, endpoint := range m.registry.GetUnhealthy() {
		elapsed := m.now().UnixNano() - endpoint.LastFailureNanos()
		if elapsed < m.opts.Threshold.Nanoseconds() {
			continue
		}
		if err := m.probe(ctx, endpoint); err != nil {
			endpoint.RefreshFailure(m.now().UnixNano())
			m.logger.Debug("Recovery probe failed",
				"endpoint", endpoint.Key(),
				"error", err)
			continue
		}
		endpoint.MarkHealthy()
		m.logger.InfoHealthy("Endpoint recovered", endpoint.Key())
		m.bus.Publish(Event{Kind: EndpointRecovered, Endpoint: endpoint})
	}
}

// LastCheckNanos is exposed for tests and stats.
func (m *Monitor) LastCheckNanos() int64 {
	return m.lastCheck.Load()
}

func (m *Monitor) probe(ctx context.Context, endpoint *domain.Endpoint) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	return m.prober.Probe(probeCtx, endpoint)
}

// SetNowFunc overrides the clock; tests only.
func (m *Monitor) SetNowFunc(now func() time.Time) {
	m.now = now
}
