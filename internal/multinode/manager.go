package multinode

import (
	"context"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/openjproxy/ojp/internal/adapter/balancer"
	"github.com/openjproxy/ojp/internal/adapter/channel"
	"github.com/openjproxy/ojp/internal/adapter/failover"
	"github.com/openjproxy/ojp/internal/adapter/health"
	"github.com/openjproxy/ojp/internal/adapter/registry"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/eventbus"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
)

type Options struct {
	Endpoints []*domain.Endpoint

	RetryAttempts int
	RetryDelay    time.Duration

	Health health.Options

	RedistributionEnabled bool
	MaxClosePerRecovery   int
	IdleRebalanceFraction float64

	LoadAware bool
	XAMode    bool

	// Dialer overrides channel construction; nil uses the default gRPC
	// dialer. Tests inject in-process transports here.
	Dialer channel.Dialer

	Logger *logger.StyledLogger
}

// Manager owns the multinode client core. One manager is constructed per
// multinode configuration; there is no process-global state.
type Manager struct {
	registry *registry.EndpointRegistry
	tracker  *registry.SessionTracker
	channels *channel.Cache
	selector ports.EndpointSelector
	bus      *eventbus.Bus[health.Event]
	monitor  *health.Monitor
	failover *failover.Handler
	conns    *failover.Connections

	retryAttempts int
	retryDelay    time.Duration
	logger        *logger.StyledLogger
}

func NewManager(opts Options) (*Manager, error) {
	if len(opts.Endpoints) == 0 {
		return nil, domain.NewError(domain.KindNoHealthyServer, "no endpoints configured")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewTestLogger()
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	opts.Health.XAMode = opts.XAMode

	m := &Manager{
		registry:      registry.NewEndpointRegistry(opts.Endpoints...),
		tracker:       registry.NewSessionTracker(opts.Logger),
		conns:         failover.NewConnections(),
		bus:           eventbus.New[health.Event](),
		retryAttempts: opts.RetryAttempts,
		retryDelay:    opts.RetryDelay,
		logger:        opts.Logger,
	}
	m.channels = channel.NewCache(opts.Dialer, opts.Logger)

	factory := balancer.NewFactory(m.tracker)
	name := balancer.DefaultBalancerRoundRobin
	if opts.LoadAware {
		name = balancer.DefaultBalancerLeastSessions
	}
	selector, err := factory.Create(name)
	if err != nil {
		return nil, err
	}
	m.selector = selector

	m.monitor = health.NewMonitor(m.registry, m, m.bus, opts.Health, opts.Logger)
	m.failover = failover.NewHandler(m.registry, m.tracker, m.channels, m.conns, failover.Options{
		RedistributionEnabled: opts.RedistributionEnabled,
		XAMode:                opts.XAMode,
		MaxClosePerRecovery:   opts.MaxClosePerRecovery,
		IdleRebalanceFraction: opts.IdleRebalanceFraction,
	}, opts.Logger)

	return m, nil
}

// Start launches the health monitor and the failover event loop.
func (m *Manager) Start(ctx context.Context) {
	m.failover.Start(ctx, m.bus)
	m.monitor.Start(ctx)
}

// Close stops background work and tears down every channel.
func (m *Manager) Close() {
	m.monitor.Stop()
	m.failover.Stop()
	m.bus.Shutdown()
	m.channels.Close()
}

// Registry, Tracker and Connections are exposed for the driver layer and
// for tests; mutation stays inside the core.
func (m *Manager) Registry() *registry.EndpointRegistry { return m.registry }
func (m *Manager) Tracker() *registry.SessionTracker    { return m.tracker }
func (m *Manager) Connections() *failover.Connections   { return m.conns }
func (m *Manager) Monitor() *health.Monitor             { return m.monitor }

// route resolves the target channel for a request, enforcing stickiness.
// Bound sessions are never re-routed: an unhealthy bound endpoint drops the
// binding and fails with session-lost.
func (m *Manager) route(ctx context.Context, session *wireSession) (*channel.Entry, error) {
	session.ClusterHealth = domain.FormatClusterHealth(m.registry.GetAll())

	if session.SessionUUID != "" {
		bound := m.tracker.Lookup(session.SessionUUID)
		if bound == nil {
			return nil, domain.NewErrorf(domain.KindSessionLost,
				"session %s is not bound to any endpoint", session.SessionUUID)
		}
		if !bound.Healthy() {
			m.tracker.Unbind(session.SessionUUID)
			return nil, domain.NewErrorf(domain.KindSessionLost,
				"session %s lost: endpoint %s is unhealthy", session.SessionUUID, bound.Key())
		}
		return m.channels.GetOrCreate(bound)
	}

	return m.selectForNewSession(ctx)
}

// selectForNewSession picks a healthy endpoint, retrying across the fleet
// for brand-new sessions only. When no healthy endpoint remains, one
// last-resort recovery pass runs before giving up.
func (m *Manager) selectForNewSession(ctx context.Context) (*channel.Entry, error) {
	var entry *channel.Entry
	err := retry.Do(
		func() error {
			endpoint, err := m.selector.Select(ctx, m.registry.GetAll())
			if domain.IsKind(err, domain.KindNoHealthyServer) {
				m.monitor.CheckNow(ctx)
				endpoint, err = m.selector.Select(ctx, m.registry.GetAll())
			}
			if err != nil {
				return err
			}
			e, err := m.channels.GetOrCreate(endpoint)
			if err != nil {
				return err
			}
			entry = e
			return nil
		},
		retry.Attempts(uint(m.retryAttempts)),
		retry.Delay(m.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// bindFreshSession binds a session created by this call. The server echo
// wins when it names a known endpoint; otherwise the contacted endpoint is
// used and the mismatch is logged.
func (m *Manager) bindFreshSession(entry *channel.Entry, req, resp *wireSession) {
	if req.SessionUUID != "" || resp == nil || resp.SessionUUID == "" {
		return
	}

	target := entry.Endpoint
	if resp.TargetServer != "" && resp.TargetServer != entry.Endpoint.Key() {
		if known, ok := m.registry.Get(resp.TargetServer); ok {
			m.logger.Warn("Server echoed a different target server; binding to echoed endpoint",
				"contacted", entry.Endpoint.Key(),
				"echoed", resp.TargetServer)
			target = known
		} else {
			m.logger.Warn("Server echoed an unknown target server; binding to contacted endpoint",
				"contacted", entry.Endpoint.Key(),
				"echoed", resp.TargetServer)
		}
	}

	m.tracker.Bind(resp.SessionUUID, target)
	if resp.ConnHash != "" {
		m.tracker.RecordConnect(resp.ConnHash, target)
	}
}

// afterError classifies an RPC failure. Connection-class errors run the
// failure path first and then propagate; everything else propagates
// unchanged (after decoding the typed payload).
func (m *Manager) afterError(entry *channel.Entry, err error) error {
	decoded := decodeWireError(err)
	if failover.IsConnectionClass(decoded) {
		m.failover.HandleFailure(entry.Endpoint, decoded)
		if domain.KindOf(decoded) == domain.KindConnectionError {
			return decoded
		}
		return domain.WrapError(domain.KindConnectionError,
			"connection failure on "+entry.Endpoint.Key(), decoded)
	}
	return decoded
}

// Probe implements ports.Prober: a real connect round-trip with minimal
// credentials; any session it creates is terminated immediately.
func (m *Manager) Probe(ctx context.Context, endpoint *domain.Endpoint) error {
	entry, err := m.channels.GetOrCreate(endpoint)
	if err != nil {
		return err
	}
	resp, err := entry.Client.Connect(ctx, probeConnectionDetails())
	if err != nil {
		return err
	}
	if resp.SessionUUID != "" {
		_, _ = entry.Client.TerminateSession(ctx, terminationRequest(resp))
	}
	return nil
}
