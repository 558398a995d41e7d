package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjproxy/ojp/internal/adapter/registry"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/eventbus"
)

// scriptedProber fails endpoints listed in failing.
type scriptedProber struct {
	mu      sync.Mutex
	failing map[string]bool
	probed  []string
}

func (p *scriptedProber) Probe(ctx context.Context, endpoint *domain.Endpoint) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = append(p.probed, endpoint.Key())
	if p.failing[endpoint.Key()] {
		return errors.New("probe refused")
	}
	return nil
}

func (p *scriptedProber) setFailing(key string, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[key] = failing
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMonitor(t *testing.T, opts Options, endpoints ...*domain.Endpoint) (*Monitor, *scriptedProber, *clock, *eventbus.Bus[Event]) {
	t.Helper()
	prober := &scriptedProber{failing: make(map[string]bool)}
	bus := eventbus.New[Event]()
	reg := registry.NewEndpointRegistry(endpoints...)
	monitor := NewMonitor(reg, prober, bus, opts, logger.NewTestLogger())

	clk := &clock{now: time.Unix(1000, 0)}
	monitor.SetNowFunc(clk.Now)
	return monitor, prober, clk, bus
}

func TestMonitor_RecoversEndpointAfterThreshold(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	monitor, _, clk, bus := newTestMonitor(t, Options{Threshold: 5 * time.Second}, a)

	events, cancel := bus.Subscribe(context.Background())
	defer cancel()

	a.MarkUnhealthy(clk.Now().UnixNano())

	// Inside the threshold window nothing is probed.
	clk.Advance(2 * time.Second)
	monitor.CheckNow(context.Background())
	assert.False(t, a.Healthy())

	// Past the threshold the probe succeeds and the endpoint recovers.
	clk.Advance(4 * time.Second)
	monitor.CheckNow(context.Background())
	require.True(t, a.Healthy())

	select {
	case event := <-events:
		assert.Equal(t, EndpointRecovered, event.Kind)
		assert.Equal(t, "a:1059", event.Endpoint.Key())
	default:
		t.Fatal("expected a recovery event")
	}
}

func TestMonitor_FailedRecoveryProbeRefreshesFailureTime(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	monitor, prober, clk, _ := newTestMonitor(t, Options{Threshold: 5 * time.Second}, a)

	prober.setFailing("a:1059", true)
	a.MarkUnhealthy(clk.Now().UnixNano())
	before := a.LastFailureNanos()

	clk.Advance(6 * time.Second)
	monitor.CheckNow(context.Background())

	assert.False(t, a.Healthy())
	assert.Greater(t, a.LastFailureNanos(), before,
		"failed recovery probe must restart the threshold window")
}

func TestMonitor_XAModeProbesHealthyEndpoints(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	b := domain.NewEndpoint("b", 1059, "")
	monitor, prober, _, bus := newTestMonitor(t, Options{XAMode: true}, a, b)

	events, cancel := bus.Subscribe(context.Background())
	defer cancel()

	prober.setFailing("b:1059", true)
	monitor.CheckNow(context.Background())

	assert.True(t, a.Healthy())
	assert.False(t, b.Healthy())

	select {
	case event := <-events:
		assert.Equal(t, EndpointUnhealthy, event.Kind)
		assert.Equal(t, "b:1059", event.Endpoint.Key())
	default:
		t.Fatal("expected an unhealthy event")
	}
}

func TestMonitor_NonXAModeSkipsHealthyEndpoints(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	monitor, prober, _, _ := newTestMonitor(t, Options{XAMode: false}, a)

	monitor.CheckNow(context.Background())

	prober.mu.Lock()
	probed := len(prober.probed)
	prober.mu.Unlock()
	assert.Zero(t, probed, "healthy endpoints are not probed outside XA mode")
}

func TestMonitor_UnhealthyWithoutProbeStaysUnhealthy(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	monitor, _, clk, _ := newTestMonitor(t, Options{Threshold: time.Hour}, a)

	a.MarkUnhealthy(clk.Now().UnixNano())

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		monitor.CheckNow(context.Background())
		assert.False(t, a.Healthy(),
			"health must not flip back without a successful probe")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	a := domain.NewEndpoint("a", 1059, "")
	monitor, _, _, _ := newTestMonitor(t, Options{Interval: 10 * time.Millisecond}, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	monitor.Start(ctx) // idempotent
	time.Sleep(30 * time.Millisecond)
	monitor.Stop()
	monitor.Stop() // idempotent

	assert.NotZero(t, monitor.LastCheckNanos())
}
