package xa

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjproxy/ojp/internal/adapter/backend"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
	"github.com/openjproxy/ojp/pkg/pool"
)

type registryFixture struct {
	registry *Registry
	driver   *backend.MemoryDriver
	store    ports.PreparedStore
}

func backendPool(driver *backend.MemoryDriver, maxTotal int) *pool.Bounded[ports.BackendSession] {
	return pool.NewBounded[ports.BackendSession](
		&testFactory{driver: driver},
		maxTotal,
		20*time.Millisecond,
	)
}

type testFactory struct {
	driver *backend.MemoryDriver
}

func (f *testFactory) Create(ctx context.Context) (ports.BackendSession, error) {
	return f.driver.Open(ctx, "memory://xa")
}

func (f *testFactory) Destroy(s ports.BackendSession) {
	_ = s.Close()
}

func newRegistryFixture(t *testing.T, store ports.PreparedStore, poolSize int) *registryFixture {
	t.Helper()
	driver := backend.NewMemoryDriver()
	registry := NewRegistry(RegistryConfig{
		Store:          store,
		Pool:           backendPool(driver, poolSize),
		DefaultTimeout: time.Minute,
	}, logger.NewTestLogger())
	t.Cleanup(registry.Close)
	return &registryFixture{registry: registry, driver: driver, store: store}
}

func TestRegistry_FullTwoPhaseLifecycle(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(1)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	state, _ := f.registry.State(xid)
	assert.Equal(t, domain.TxActive, state)

	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))
	state, _ = f.registry.State(xid)
	assert.Equal(t, domain.TxEnded, state)

	rc, err := f.registry.Prepare(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, domain.XAOK, rc)

	// The prepared record is durable before XA_OK is returned.
	records, err := f.store.List()
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, f.registry.Commit(ctx, xid, false))
	state, _ = f.registry.State(xid)
	assert.Equal(t, domain.TxCommitted, state)

	// Commit clears the prepared record.
	records, err = f.store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRegistry_OnePhaseCommitFromEnded(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(2)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))
	require.NoError(t, f.registry.Commit(ctx, xid, true))

	state, _ := f.registry.State(xid)
	assert.Equal(t, domain.TxCommitted, state)

	// Nothing was ever prepared, nothing to clear.
	records, _ := f.store.List()
	assert.Empty(t, records)
}

func TestRegistry_CommitIdempotence(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(3)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))
	_, err := f.registry.Prepare(ctx, xid)
	require.NoError(t, err)
	require.NoError(t, f.registry.Commit(ctx, xid, false))

	commits := f.driver.XA().Calls("commit")

	// Second commit succeeds without touching the backend.
	require.NoError(t, f.registry.Commit(ctx, xid, false))
	assert.Equal(t, commits, f.driver.XA().Calls("commit"))
}

func TestRegistry_RollbackIdempotence(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(4)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f.registry.Rollback(ctx, xid))

	rollbacks := f.driver.XA().Calls("rollback")
	require.NoError(t, f.registry.Rollback(ctx, xid))
	assert.Equal(t, rollbacks, f.driver.XA().Calls("rollback"))
}

func TestRegistry_StateMachineRejectsBadTransitions(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(5)

	// End before start.
	err := f.registry.End(ctx, xid, domain.TMSUCCESS)
	assert.Equal(t, domain.KindNotATA, domain.KindOf(err))

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))

	// Prepare while still active.
	_, err = f.registry.Prepare(ctx, xid)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))

	// Duplicate start.
	err = f.registry.Start(ctx, xid, domain.TMNOFLAGS)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))

	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))

	// Two-phase commit without prepare.
	err = f.registry.Commit(ctx, xid, false)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))

	_, err = f.registry.Prepare(ctx, xid)
	require.NoError(t, err)

	// One-phase commit on a prepared branch is rejected.
	err = f.registry.Commit(ctx, xid, true)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))

	require.NoError(t, f.registry.Commit(ctx, xid, false))

	// Rollback after commit is a protocol error, not idempotent success.
	err = f.registry.Rollback(ctx, xid)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))
}

func TestRegistry_JoinAndResume(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(6)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f.registry.Start(ctx, xid, domain.TMJOIN))

	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))
	require.NoError(t, f.registry.Start(ctx, xid, domain.TMRESUME))

	state, _ := f.registry.State(xid)
	assert.Equal(t, domain.TxActive, state)

	// Resume from ACTIVE is illegal.
	err := f.registry.Start(ctx, xid, domain.TMRESUME)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))
}

func TestRegistry_ReadOnlyOptimisationShortCircuits(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()
	xid := testXid(7)

	f.driver.XA().SetPrepareResult(domain.XARDONLY)

	require.NoError(t, f.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f.registry.End(ctx, xid, domain.TMSUCCESS))

	rc, err := f.registry.Prepare(ctx, xid)
	require.NoError(t, err)
	assert.Equal(t, domain.XARDONLY, rc)

	state, _ := f.registry.State(xid)
	assert.Equal(t, domain.TxCommitted, state)

	// No prepared record is ever written for a read-only branch.
	records, _ := f.store.List()
	assert.Empty(t, records)
}

func TestRegistry_PoolExhaustionIsRMError(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 1)
	ctx := context.Background()

	require.NoError(t, f.registry.Start(ctx, testXid(8), domain.TMNOFLAGS))

	// The only backend session is pinned by the first branch.
	err := f.registry.Start(ctx, testXid(9), domain.TMNOFLAGS)
	require.Error(t, err)
	assert.Equal(t, domain.KindRMError, domain.KindOf(err))
}

func TestRegistry_UnknownXidIsNotATA(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)
	ctx := context.Background()

	err := f.registry.Commit(ctx, testXid(10), false)
	assert.Equal(t, domain.KindNotATA, domain.KindOf(err))

	err = f.registry.Rollback(ctx, testXid(11))
	assert.Equal(t, domain.KindNotATA, domain.KindOf(err))

	err = f.registry.Forget(ctx, testXid(12))
	assert.Equal(t, domain.KindNotATA, domain.KindOf(err))
}

func TestRegistry_CrashRecoveryRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prepared.log")
	xid := testXid(13)

	// First incarnation: prepare, then "crash" before commit.
	store1, err := NewFileStore(FileStoreOptions{Path: path, Fsync: true, Checksum: true})
	require.NoError(t, err)
	f1 := newRegistryFixture(t, store1, 4)

	require.NoError(t, f1.registry.Start(ctx, xid, domain.TMNOFLAGS))
	require.NoError(t, f1.registry.End(ctx, xid, domain.TMSUCCESS))
	rc, err := f1.registry.Prepare(ctx, xid)
	require.NoError(t, err)
	require.Equal(t, domain.XAOK, rc)
	require.NoError(t, store1.Close())

	// Second incarnation over the same log.
	store2, err := NewFileStore(FileStoreOptions{Path: path, Fsync: true, Checksum: true})
	require.NoError(t, err)
	defer store2.Close()
	f2 := newRegistryFixture(t, store2, 4)

	// Recover with TMSTARTRSCAN reports the in-doubt branch.
	xids, err := f2.registry.Recover(ctx, domain.TMSTARTRSCAN)
	require.NoError(t, err)
	require.Len(t, xids, 1)
	assert.True(t, xids[0].Equal(xid))

	// A scan continuation reports nothing further.
	xids, err = f2.registry.Recover(ctx, domain.TMNOFLAGS)
	require.NoError(t, err)
	assert.Empty(t, xids)

	// Committing the recovered branch succeeds and clears the record.
	require.NoError(t, f2.registry.Commit(ctx, xid, false))
	records, err := store2.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	// And the commit stays idempotent after recovery.
	commits := f2.driver.XA().Calls("commit")
	require.NoError(t, f2.registry.Commit(ctx, xid, false))
	assert.Equal(t, commits, f2.driver.XA().Calls("commit"))
}

func TestRegistry_TransactionTimeouts(t *testing.T) {
	f := newRegistryFixture(t, NewMemoryStore(), 4)

	assert.Equal(t, int32(60), f.registry.GetTransactionTimeout())

	require.NoError(t, f.registry.SetTransactionTimeout(120))
	assert.Equal(t, int32(120), f.registry.GetTransactionTimeout())

	// Zero restores the default.
	require.NoError(t, f.registry.SetTransactionTimeout(0))
	assert.Equal(t, int32(60), f.registry.GetTransactionTimeout())

	err := f.registry.SetTransactionTimeout(-1)
	assert.Equal(t, domain.KindProtocolError, domain.KindOf(err))
}
