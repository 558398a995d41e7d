package ports

import (
	"context"

	"github.com/openjproxy/ojp/internal/core/domain"
)

// BackendDriver is the capability set the server core consumes to reach a
// backing database. Concrete adapters (PostgreSQL, Oracle, ...) live outside
// the core and register themselves by name.
type BackendDriver interface {
	Name() string
	Open(ctx context.Context, dsn string) (BackendSession, error)
}

// BackendSession is one physical connection to the backing database.
type BackendSession interface {
	ExecuteUpdate(ctx context.Context, sql string, params []any) (int64, error)
	ExecuteQuery(ctx context.Context, sql string, params []any) (RowCursor, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	IsHealthy(ctx context.Context) bool
	// Reset returns the session to a pool-clean state. It must not be called
	// while the session is pinned to a prepared XA branch.
	Reset(ctx context.Context) error
	Close() error

	// XAResource exposes the session's XA branch interface when the backing
	// driver supports distributed transactions.
	XAResource() (XAResource, bool)
}

// RowCursor walks a server-side result set in row blocks.
type RowCursor interface {
	Columns() []string
	// Next returns up to max rows and whether more rows remain.
	Next(max int) (rows [][]any, more bool, err error)
	Close() error
}

// XAResource mirrors the subset of the XA branch interface the registry
// drives on the backing database.
type XAResource interface {
	Start(ctx context.Context, xid domain.Xid, flags int32) error
	End(ctx context.Context, xid domain.Xid, flags int32) error
	Prepare(ctx context.Context, xid domain.Xid) (int32, error)
	Commit(ctx context.Context, xid domain.Xid, onePhase bool) error
	Rollback(ctx context.Context, xid domain.Xid) error
	Recover(ctx context.Context, flags int32) ([]domain.Xid, error)
	Forget(ctx context.Context, xid domain.Xid) error
	SetTransactionTimeout(seconds int32) error
	GetTransactionTimeout() (int32, error)
	IsSameRM(other XAResource) bool
}

// PreparedRecord is the durable trace written before prepare returns XA_OK.
type PreparedRecord struct {
	Xid              domain.Xid
	TimestampNanos   int64
	BackendSessionID string
	Metadata         []byte
}

// PreparedStore persists prepared records. Writes are serialised per Xid by
// the registry; List must observe a consistent snapshot.
type PreparedStore interface {
	Put(record PreparedRecord) error
	Clear(xid domain.Xid) error
	List() ([]PreparedRecord, error)
	Close() error
}
