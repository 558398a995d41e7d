package domain

import (
	"fmt"
	"sync/atomic"
)

// Endpoint is one proxy server node, identified by host:port. Identity fields
// are immutable after construction; health state is mutated concurrently by
// the health monitor and the failure handler, hence the atomics.
type Endpoint struct {
	Host       string
	Port       int
	Datasource string

	key string

	healthy     atomic.Bool
	lastFailure atomic.Int64
}

func NewEndpoint(host string, port int, datasource string) *Endpoint {
	e := &Endpoint{
		Host:       host,
		Port:       port,
		Datasource: datasource,
		key:        fmt.Sprintf("%s:%d", host, port),
	}
	e.healthy.Store(true)
	return e
}

// Key returns the pre-computed host:port identity string.
func (e *Endpoint) Key() string {
	return e.key
}

func (e *Endpoint) String() string {
	return e.key
}

func (e *Endpoint) Healthy() bool {
	return e.healthy.Load()
}

// MarkUnhealthy records a failure at the given wall-clock nanos. An endpoint
// only transitions here on a connection-class error or a failed probe.
func (e *Endpoint) MarkUnhealthy(nowNanos int64) {
	e.healthy.Store(false)
	e.lastFailure.Store(nowNanos)
}

// MarkHealthy is only called after a successful probe.
func (e *Endpoint) MarkHealthy() {
	e.healthy.Store(true)
}

// RefreshFailure pushes the failure timestamp forward after a failed
// recovery probe, restarting the recovery threshold window.
func (e *Endpoint) RefreshFailure(nowNanos int64) {
	e.lastFailure.Store(nowNanos)
}

func (e *Endpoint) LastFailureNanos() int64 {
	return e.lastFailure.Load()
}

type ErrEndpointNotFound struct {
	Key string
}

func (e *ErrEndpointNotFound) Error() string {
	return fmt.Sprintf("endpoint not found: %s", e.Key)
}
