// Package channel owns the transport channels: one gRPC client connection
// and stub per endpoint. Entries are replaced, never torn down mid-flight;
// a generation counter lets callers detect that the stub they hold went
// stale after a failure.
package channel

import (
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/internal/wire"
)

// Grace period before a replaced connection is actually closed, so RPCs
// still running on it terminate with their own errors.
const staleChannelGrace = 30 * time.Second

// Entry is one live channel + stub. Generation advances globally with every
// entry created; two entries for the same endpoint never share a generation.
type Entry struct {
	Endpoint   *domain.Endpoint
	Client     wire.ProxyClient
	Generation uint64

	conn *grpc.ClientConn
}

// Dialer creates a channel to an endpoint. Swapped in tests.
type Dialer func(endpoint *domain.Endpoint) (*grpc.ClientConn, error)

type Cache struct {
	entries *xsync.Map[string, *Entry]
	dial    Dialer
	gen     atomic.Uint64
	logger  *logger.StyledLogger
}

func NewCache(dial Dialer, log *logger.StyledLogger) *Cache {
	if dial == nil {
		dial = DefaultDialer(nil)
	}
	return &Cache{
		entries: xsync.NewMap[string, *Entry](),
		dial:    dial,
		logger:  log,
	}
}

// DefaultDialer dials with the proxy codec and keepalive settings; tlsCfg
// nil means plaintext.
func DefaultDialer(tlsCfg *tls.Config) Dialer {
	return func(endpoint *domain.Endpoint) (*grpc.ClientConn, error) {
		creds := insecure.NewCredentials()
		if tlsCfg != nil {
			creds = credentials.NewTLS(tlsCfg)
		}
		return grpc.NewClient(endpoint.Key(),
			grpc.WithTransportCredentials(creds),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.CodecName)),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		)
	}
}

// GetOrCreate returns the current entry for the endpoint, dialling on first
// use or after an invalidation. A dial failure marks the endpoint unhealthy.
func (c *Cache) GetOrCreate(endpoint *domain.Endpoint) (*Entry, error) {
	if entry, ok := c.entries.Load(endpoint.Key()); ok {
		return entry, nil
	}

	conn, err := c.dial(endpoint)
	if err != nil {
		endpoint.MarkUnhealthy(time.Now().UnixNano())
		return nil, domain.WrapError(domain.KindConnectionError, "channel construction failed for "+endpoint.Key(), err)
	}

	entry := &Entry{
		Endpoint:   endpoint,
		Client:     wire.NewProxyClient(conn),
		Generation: c.gen.Add(1),
		conn:       conn,
	}

	if existing, loaded := c.entries.LoadOrStore(endpoint.Key(), entry); loaded {
		// Lost the race; keep the winner and retire ours quietly.
		_ = conn.Close()
		return existing, nil
	}
	return entry, nil
}

// Refresh returns the current entry when the caller's went stale, dialling a
// new one if nothing replaced it yet. Staleness is a generation comparison,
// never pointer identity.
func (c *Cache) Refresh(endpoint *domain.Endpoint, stale *Entry) (*Entry, error) {
	if current, ok := c.entries.Load(endpoint.Key()); ok {
		if stale == nil || current.Generation != stale.Generation {
			return current, nil
		}
	}
	if stale != nil {
		c.invalidateEntry(endpoint.Key(), stale)
	}
	return c.GetOrCreate(endpoint)
}

// Invalidate unlinks the endpoint's entry. The old connection is closed
// after a grace period so in-flight RPCs fail on their own terms.
func (c *Cache) Invalidate(endpoint *domain.Endpoint) {
	if endpoint == nil {
		return
	}
	if entry, ok := c.entries.LoadAndDelete(endpoint.Key()); ok {
		c.scheduleClose(entry)
		c.logger.InfoWithEndpoint("Invalidated channel for", endpoint.Key(),
			"generation", entry.Generation)
	}
}

func (c *Cache) invalidateEntry(key string, stale *Entry) {
	if entry, ok := c.entries.LoadAndDelete(key); ok {
		if entry.Generation == stale.Generation {
			c.scheduleClose(entry)
		} else {
			// A newer entry raced in; keep it.
			c.entries.Store(key, entry)
		}
	}
}

func (c *Cache) scheduleClose(entry *Entry) {
	conn := entry.conn
	time.AfterFunc(staleChannelGrace, func() {
		_ = conn.Close()
	})
}

// Close tears down every channel immediately; only used at shutdown.
func (c *Cache) Close() {
	c.entries.Range(func(key string, entry *Entry) bool {
		c.entries.Delete(key)
		_ = entry.conn.Close()
		return true
	})
}
