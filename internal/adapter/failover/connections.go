package failover

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
)

// Connections tracks the client-side pooled connections so the failure
// handler can invalidate the ones bound to a dead endpoint and the
// redistributor can trim survivors after a recovery.
type Connections struct {
	conns *xsync.Map[uint64, ports.TrackedConn]
	seq   atomic.Uint64
}

// Tracked pairs a registered connection with its registry id.
type Tracked struct {
	ID   uint64
	Conn ports.TrackedConn
}

func NewConnections() *Connections {
	return &Connections{
		conns: xsync.NewMap[uint64, ports.TrackedConn](),
	}
}

// Register adds a connection and returns its id for later Unregister.
func (c *Connections) Register(conn ports.TrackedConn) uint64 {
	id := c.seq.Add(1)
	c.conns.Store(id, conn)
	return id
}

func (c *Connections) Unregister(id uint64) {
	c.conns.Delete(id)
}

func (c *Connections) Total() int {
	return c.conns.Size()
}

// ForEndpoint returns the tracked connections currently bound to endpoint.
func (c *Connections) ForEndpoint(endpoint *domain.Endpoint) []Tracked {
	var out []Tracked
	c.conns.Range(func(id uint64, conn ports.TrackedConn) bool {
		if conn.Endpoint().Key() == endpoint.Key() {
			out = append(out, Tracked{ID: id, Conn: conn})
		}
		return true
	})
	return out
}

// CountPerEndpoint returns the connection census keyed by endpoint key.
func (c *Connections) CountPerEndpoint() map[string]int {
	out := make(map[string]int)
	c.conns.Range(func(_ uint64, conn ports.TrackedConn) bool {
		out[conn.Endpoint().Key()]++
		return true
	})
	return out
}

// Invalidate marks the connection so the pool discards it, closes it, and
// removes it from tracking.
func (c *Connections) Invalidate(t Tracked) {
	t.Conn.MarkInvalid()
	_ = t.Conn.Close()
	c.conns.Delete(t.ID)
}
