package multinode

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/wire"
)

// PooledConnection is the client-pool handle for one logical connection.
// It implements ports.TrackedConn so the redistributor can invalidate it;
// the owning pool checks Invalid() on checkout and discards flagged
// connections, which is what spreads load back across a recovered fleet.
type PooledConnection struct {
	manager *Manager
	session wire.SessionInfo

	registryID uint64
	endpoint   *domain.Endpoint

	invalid   atomic.Bool
	inUse     atomic.Bool
	idleSince atomic.Int64
	closed    atomic.Bool
}

// NewPooledConnection connects through the manager and registers the
// resulting connection for failure handling and redistribution.
func (m *Manager) NewPooledConnection(ctx context.Context, details *wire.ConnectionDetails) (*PooledConnection, error) {
	info, err := m.Connect(ctx, details)
	if err != nil {
		return nil, err
	}

	endpoint := m.tracker.Lookup(info.SessionUUID)
	if endpoint == nil {
		return nil, domain.NewErrorf(domain.KindSessionLost,
			"session %s vanished during connect", info.SessionUUID)
	}

	conn := &PooledConnection{
		manager:  m,
		session:  *info,
		endpoint: endpoint,
	}
	conn.idleSince.Store(time.Now().UnixNano())
	conn.registryID = m.conns.Register(conn)
	return conn, nil
}

func (c *PooledConnection) Session() wire.SessionInfo { return c.session }

func (c *PooledConnection) ConnHash() string { return c.session.ConnHash }

func (c *PooledConnection) Endpoint() *domain.Endpoint { return c.endpoint }

func (c *PooledConnection) InUse() bool { return c.inUse.Load() }

func (c *PooledConnection) IdleSince() time.Time {
	return time.Unix(0, c.idleSince.Load())
}

// MarkInvalid flags the connection for discard on next pool checkout.
func (c *PooledConnection) MarkInvalid() {
	c.invalid.Store(true)
}

func (c *PooledConnection) Invalid() bool { return c.invalid.Load() }

// Checkout and Checkin are called by the owning pool around use.
func (c *PooledConnection) Checkout() { c.inUse.Store(true) }

func (c *PooledConnection) Checkin() {
	c.inUse.Store(false)
	c.idleSince.Store(time.Now().UnixNano())
}

// Close terminates the remote session (best effort) and unregisters the
// connection. Idempotent.
func (c *PooledConnection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.manager.conns.Unregister(c.registryID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.manager.TerminateSession(ctx, &wire.SessionTerminationRequest{Session: c.session})
	if err != nil && domain.KindOf(err) != domain.KindConnectionError {
		return err
	}
	return nil
}
