package xa

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/pool"
)

// txContext is one Xid-keyed transaction branch. The backend session is
// pinned from xaStart(NOFLAGS) until a terminal transition; it is never
// returned to the pool or reset while ACTIVE, ENDED or PREPARED.
type txContext struct {
	mu sync.Mutex

	state   domain.TxState
	backend ports.BackendSession
	xar     ports.XAResource

	createdNanos    int64
	lastAccessNanos int64
}

// Registry owns every TxContext and the durable prepared store.
type Registry struct {
	contexts *xsync.Map[domain.XidKey, *txContext]
	store    ports.PreparedStore
	pool     *pool.Bounded[ports.BackendSession]

	defaultTimeout int64 // seconds, guarded by timeoutMu
	timeoutMu      sync.Mutex

	now    func() time.Time
	logger *logger.StyledLogger
}

type RegistryConfig struct {
	Store          ports.PreparedStore
	Pool           *pool.Bounded[ports.BackendSession]
	DefaultTimeout time.Duration
}

func NewRegistry(cfg RegistryConfig, log *logger.StyledLogger) *Registry {
	timeout := int64(cfg.DefaultTimeout / time.Second)
	if timeout <= 0 {
		timeout = 60
	}
	return &Registry{
		contexts:       xsync.NewMap[domain.XidKey, *txContext](),
		store:          cfg.Store,
		pool:           cfg.Pool,
		defaultTimeout: timeout,
		now:            time.Now,
		logger:         log,
	}
}

func protocolError(format string, args ...any) error {
	return domain.NewErrorf(domain.KindProtocolError, format, args...)
}

func notATA(xid domain.Xid) error {
	return domain.NewErrorf(domain.KindNotATA, "unknown xid %s", xid)
}

// Start drives xaStart for all flag variants.
func (r *Registry) Start(ctx context.Context, xid domain.Xid, flags int32) error {
	key := xid.Key()

	switch flags {
	case domain.TMNOFLAGS:
		if existing, ok := r.contexts.Load(key); ok {
			existing.mu.Lock()
			state := existing.state
			existing.mu.Unlock()
			if state != domain.TxCommitted && state != domain.TxRolledBack {
				return protocolError("xid %s already started (state %s)", xid, state)
			}
			r.contexts.Delete(key)
		}

		backend, err := r.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, pool.ErrExhausted) {
				return domain.WrapError(domain.KindRMError, "backend session pool exhausted", err)
			}
			return domain.WrapError(domain.KindRMError, "backend session acquisition failed", err)
		}

		xar, ok := backend.XAResource()
		if !ok {
			r.pool.Release(backend)
			return domain.NewError(domain.KindRMError, "backend does not support XA")
		}

		if err := xar.Start(ctx, xid, domain.TMNOFLAGS); err != nil {
			r.pool.Release(backend)
			return r.backendError("xaStart", err)
		}

		now := r.now().UnixNano()
		tc := &txContext{
			state:           domain.TxActive,
			backend:         backend,
			xar:             xar,
			createdNanos:    now,
			lastAccessNanos: now,
		}
		r.contexts.Store(key, tc)
		return nil

	case domain.TMJOIN, domain.TMRESUME:
		tc, ok := r.contexts.Load(key)
		if !ok {
			return notATA(xid)
		}
		tc.mu.Lock()
		defer tc.mu.Unlock()

		if flags == domain.TMJOIN && tc.state != domain.TxActive {
			return protocolError("xaStart(JOIN) on xid %s in state %s", xid, tc.state)
		}
		if flags == domain.TMRESUME && tc.state != domain.TxEnded {
			return protocolError("xaStart(RESUME) on xid %s in state %s", xid, tc.state)
		}

		if err := tc.xar.Start(ctx, xid, flags); err != nil {
			return r.backendError("xaStart", err)
		}
		tc.state = domain.TxActive
		tc.lastAccessNanos = r.now().UnixNano()
		return nil

	default:
		return protocolError("unsupported xaStart flags %#x for xid %s", flags, xid)
	}
}

// End moves an ACTIVE branch to ENDED.
func (r *Registry) End(ctx context.Context, xid domain.Xid, flags int32) error {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return notATA(xid)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.state != domain.TxActive {
		return protocolError("xaEnd on xid %s in state %s", xid, tc.state)
	}
	if err := tc.xar.End(ctx, xid, flags); err != nil {
		return r.backendError("xaEnd", err)
	}
	tc.state = domain.TxEnded
	tc.lastAccessNanos = r.now().UnixNano()
	return nil
}

// Prepare runs phase one. The prepared record hits the durable store before
// XA_OK is returned; a store failure fails the prepare and the branch stays
// ENDED. XA_RDONLY short-circuits straight to COMMITTED.
func (r *Registry) Prepare(ctx context.Context, xid domain.Xid) (int32, error) {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return 0, notATA(xid)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.state != domain.TxEnded {
		return 0, protocolError("xaPrepare on xid %s in state %s", xid, tc.state)
	}

	rc, err := tc.xar.Prepare(ctx, xid)
	if err != nil {
		return 0, r.backendError("xaPrepare", err)
	}

	if rc == domain.XARDONLY {
		// Read-only optimisation: nothing to commit, branch is done.
		tc.state = domain.TxCommitted
		r.releaseLocked(tc)
		return domain.XARDONLY, nil
	}

	record := ports.PreparedRecord{
		Xid:            xid,
		TimestampNanos: r.now().UnixNano(),
	}
	if err := r.store.Put(record); err != nil {
		r.logger.Error("Prepared-record write failed; failing prepare",
			"xid", xid.String(),
			"error", err)
		return 0, domain.WrapError(domain.KindRMError, "prepared record write failed", err)
	}

	tc.state = domain.TxPrepared
	tc.lastAccessNanos = r.now().UnixNano()
	return domain.XAOK, nil
}

// Commit finishes a branch. One-phase commit is only legal from ENDED; a
// PREPARED branch must take the two-phase path. Committing an already
// COMMITTED branch succeeds without touching the backend.
func (r *Registry) Commit(ctx context.Context, xid domain.Xid, onePhase bool) error {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return r.commitRecovered(ctx, xid)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	switch tc.state {
	case domain.TxCommitted:
		return nil
	case domain.TxRolledBack:
		return protocolError("xaCommit on rolled-back xid %s", xid)
	case domain.TxEnded:
		if !onePhase {
			return protocolError("two-phase xaCommit on unprepared xid %s", xid)
		}
		if err := tc.xar.Commit(ctx, xid, true); err != nil {
			return r.backendError("xaCommit", err)
		}
		tc.state = domain.TxCommitted
		r.releaseLocked(tc)
		return nil
	case domain.TxPrepared:
		if onePhase {
			return protocolError("one-phase xaCommit on prepared xid %s", xid)
		}
		if err := tc.xar.Commit(ctx, xid, false); err != nil {
			return r.backendError("xaCommit", err)
		}
		if err := r.store.Clear(xid); err != nil {
			r.logger.Error("Prepared-record clear failed after commit",
				"xid", xid.String(),
				"error", err)
		}
		tc.state = domain.TxCommitted
		r.releaseLocked(tc)
		return nil
	default:
		return protocolError("xaCommit on xid %s in state %s", xid, tc.state)
	}
}

// commitRecovered commits a branch that survives only in the durable store
// (post-crash). The branch is driven through a pool session.
func (r *Registry) commitRecovered(ctx context.Context, xid domain.Xid) error {
	if !r.hasPrepared(xid) {
		return notATA(xid)
	}

	backend, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.WrapError(domain.KindRMError, "backend session acquisition failed", err)
	}
	defer r.pool.Release(backend)

	xar, ok := backend.XAResource()
	if !ok {
		return domain.NewError(domain.KindRMError, "backend does not support XA")
	}
	if err := xar.Commit(ctx, xid, false); err != nil {
		return r.backendError("xaCommit", err)
	}
	if err := r.store.Clear(xid); err != nil {
		r.logger.Error("Prepared-record clear failed after recovered commit",
			"xid", xid.String(),
			"error", err)
	}

	// Remember the outcome so a repeated commit stays idempotent.
	now := r.now().UnixNano()
	r.contexts.Store(xid.Key(), &txContext{
		state:           domain.TxCommitted,
		createdNanos:    now,
		lastAccessNanos: now,
	})
	return nil
}

// Rollback aborts a branch from ACTIVE, ENDED or PREPARED. Rolling back an
// already rolled-back branch succeeds without touching the backend.
func (r *Registry) Rollback(ctx context.Context, xid domain.Xid) error {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return r.rollbackRecovered(ctx, xid)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	switch tc.state {
	case domain.TxRolledBack:
		return nil
	case domain.TxCommitted:
		return protocolError("xaRollback on committed xid %s", xid)
	case domain.TxActive, domain.TxEnded, domain.TxPrepared:
		wasPrepared := tc.state == domain.TxPrepared
		if err := tc.xar.Rollback(ctx, xid); err != nil {
			return r.backendError("xaRollback", err)
		}
		if wasPrepared {
			if err := r.store.Clear(xid); err != nil {
				r.logger.Error("Prepared-record clear failed after rollback",
					"xid", xid.String(),
					"error", err)
			}
		}
		tc.state = domain.TxRolledBack
		r.releaseLocked(tc)
		return nil
	default:
		return protocolError("xaRollback on xid %s in state %s", xid, tc.state)
	}
}

func (r *Registry) rollbackRecovered(ctx context.Context, xid domain.Xid) error {
	if !r.hasPrepared(xid) {
		return notATA(xid)
	}

	backend, err := r.pool.Acquire(ctx)
	if err != nil {
		return domain.WrapError(domain.KindRMError, "backend session acquisition failed", err)
	}
	defer r.pool.Release(backend)

	xar, ok := backend.XAResource()
	if !ok {
		return domain.NewError(domain.KindRMError, "backend does not support XA")
	}
	if err := xar.Rollback(ctx, xid); err != nil {
		return r.backendError("xaRollback", err)
	}
	if err := r.store.Clear(xid); err != nil {
		r.logger.Error("Prepared-record clear failed after recovered rollback",
			"xid", xid.String(),
			"error", err)
	}

	now := r.now().UnixNano()
	r.contexts.Store(xid.Key(), &txContext{
		state:           domain.TxRolledBack,
		createdNanos:    now,
		lastAccessNanos: now,
	})
	return nil
}

// Recover returns the Xids persisted in PREPARED state. Only a scan opened
// with TMSTARTRSCAN reports records; follow-up calls return nothing, per
// the XA scan contract.
func (r *Registry) Recover(ctx context.Context, flags int32) ([]domain.Xid, error) {
	if flags&domain.TMSTARTRSCAN == 0 {
		return nil, nil
	}
	records, err := r.store.List()
	if err != nil {
		return nil, domain.WrapError(domain.KindRMError, "prepared store scan failed", err)
	}
	xids := make([]domain.Xid, 0, len(records))
	for _, record := range records {
		xids = append(xids, record.Xid)
	}
	return xids, nil
}

// Forget is only legal on a heuristically completed branch.
func (r *Registry) Forget(ctx context.Context, xid domain.Xid) error {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return notATA(xid)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.state != domain.TxHeuristicMixed {
		return protocolError("xaForget on xid %s in state %s", xid, tc.state)
	}
	if err := r.store.Clear(xid); err != nil {
		return domain.WrapError(domain.KindRMError, "prepared record clear failed", err)
	}
	r.contexts.Delete(xid.Key())
	return nil
}

// SetTransactionTimeout and GetTransactionTimeout operate on the
// registry-wide default value. Branches do not read it and are never timed
// out by it.
func (r *Registry) SetTransactionTimeout(seconds int32) error {
	if seconds < 0 {
		return protocolError("negative transaction timeout %d", seconds)
	}
	r.timeoutMu.Lock()
	defer r.timeoutMu.Unlock()
	if seconds == 0 {
		r.defaultTimeout = 60
	} else {
		r.defaultTimeout = int64(seconds)
	}
	return nil
}

func (r *Registry) GetTransactionTimeout() int32 {
	r.timeoutMu.Lock()
	defer r.timeoutMu.Unlock()
	return int32(r.defaultTimeout)
}

// State reports the current state of a branch; used by handlers and tests.
func (r *Registry) State(xid domain.Xid) (domain.TxState, bool) {
	tc, ok := r.contexts.Load(xid.Key())
	if !ok {
		return domain.TxNone, false
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.state, true
}

// releaseLocked resets and returns the pinned backend session after a
// terminal transition. Caller holds tc.mu.
func (r *Registry) releaseLocked(tc *txContext) {
	if tc.backend == nil {
		return
	}
	backend := tc.backend
	tc.backend = nil
	tc.xar = nil

	if err := backend.Reset(context.Background()); err != nil {
		r.pool.Discard(backend)
		return
	}
	r.pool.Release(backend)
}

func (r *Registry) hasPrepared(xid domain.Xid) bool {
	records, err := r.store.List()
	if err != nil {
		return false
	}
	key := xid.Key()
	for _, record := range records {
		if record.Xid.Key() == key {
			return true
		}
	}
	return false
}

// backendError maps a backend failure: lost connectivity is RM-fail,
// everything else RM-error.
func (r *Registry) backendError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.WrapError(domain.KindRMFail, op+" lost backend connectivity", err)
	}
	return domain.WrapError(domain.KindRMError, op+" failed on backend", err)
}

// Close drops in-memory state; prepared records survive in the store.
func (r *Registry) Close() {
	r.contexts.Clear()
}
