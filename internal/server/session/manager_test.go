package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openjproxy/ojp/internal/adapter/backend"
	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(cfg Config) (*Manager, *fakeClock, *backend.MemoryDriver) {
	m := NewManager(cfg, logger.NewTestLogger())
	clk := &fakeClock{now: time.Unix(1000, 0)}
	m.SetNowFunc(clk.Now)
	return m, clk, backend.NewMemoryDriver()
}

func TestManager_CreateAndGetSession(t *testing.T) {
	m, _, driver := newTestManager(Config{})
	be, err := driver.Open(context.Background(), "memory://test")
	require.NoError(t, err)

	m.RegisterClientUUID("hash-1", "client-1")
	sess := m.CreateSession("client-1", "hash-1", false, be)
	require.NotEmpty(t, sess.ID)

	got, err := m.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, got)

	clientUUID, ok := m.ClientUUID("hash-1")
	require.True(t, ok)
	assert.Equal(t, "client-1", clientUUID)
}

func TestManager_GetUnknownSessionIsSessionLost(t *testing.T) {
	m, _, _ := newTestManager(Config{})

	_, err := m.GetSession("nope")
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionLost, domain.KindOf(err))

	_, err = m.GetSession("")
	require.Error(t, err)
	assert.Equal(t, domain.KindSessionLost, domain.KindOf(err))
}

func TestManager_TerminateReleasesBackend(t *testing.T) {
	m, _, driver := newTestManager(Config{})
	be, err := driver.Open(context.Background(), "memory://test")
	require.NoError(t, err)

	sess := m.CreateSession("client-1", "hash-1", false, be)
	sess.AddStatement(&Statement{UUID: "st-1", SQL: "SELECT 1"})
	sess.AddLob(&Lob{UUID: "lob-1", Kind: "blob"})

	require.NoError(t, m.TerminateSession(sess.ID))

	assert.False(t, be.IsHealthy(context.Background()), "backend connection must be closed")
	_, err = m.GetSession(sess.ID)
	assert.Error(t, err)

	// Idempotent.
	require.NoError(t, m.TerminateSession(sess.ID))
}

func TestManager_ActivityIsMonotonic(t *testing.T) {
	m, clk, driver := newTestManager(Config{})
	be, _ := driver.Open(context.Background(), "memory://test")
	sess := m.CreateSession("client-1", "hash-1", false, be)

	first := sess.LastActivity()
	clk.Advance(time.Minute)
	m.UpdateActivity(sess.ID)
	second := sess.LastActivity()
	assert.True(t, second.After(first))

	// A stale clock must never move the activity time backwards.
	clk.mu.Lock()
	clk.now = clk.now.Add(-time.Hour)
	clk.mu.Unlock()
	m.UpdateActivity(sess.ID)
	assert.Equal(t, second, sess.LastActivity())
}

func TestManager_CleanupExpiredSessions(t *testing.T) {
	m, clk, driver := newTestManager(Config{
		CleanupEnabled: true,
		SessionTimeout: 30 * time.Minute,
	})

	beOld, _ := driver.Open(context.Background(), "memory://test")
	beFresh, _ := driver.Open(context.Background(), "memory://test")

	stale := m.CreateSession("client-1", "hash-1", false, beOld)
	clk.Advance(31 * time.Minute)
	fresh := m.CreateSession("client-2", "hash-2", false, beFresh)

	reaped := m.CleanupExpired()
	assert.Equal(t, 1, reaped)

	_, err := m.GetSession(stale.ID)
	assert.Error(t, err)
	_, err = m.GetSession(fresh.ID)
	assert.NoError(t, err)
}

func TestSession_StatementCacheReuse(t *testing.T) {
	m, _, driver := newTestManager(Config{})
	be, _ := driver.Open(context.Background(), "memory://test")
	sess := m.CreateSession("client-1", "hash-1", false, be)

	stmt := &Statement{UUID: "st-1", SQL: "SELECT * FROM t WHERE id = ?"}
	sess.AddStatement(stmt)

	cached, ok := sess.CachedStatement("SELECT * FROM t WHERE id = ?")
	require.True(t, ok)
	assert.Equal(t, stmt, cached)

	_, ok = sess.CachedStatement("SELECT something else")
	assert.False(t, ok)

	byUUID, ok := sess.Statement("st-1")
	require.True(t, ok)
	assert.Equal(t, stmt, byUUID)
}

func TestSession_LobReadWrite(t *testing.T) {
	lob := &Lob{UUID: "lob-1", Kind: "blob"}

	length := lob.WriteAt(0, []byte("hello "))
	assert.Equal(t, int64(6), length)
	length = lob.WriteAt(6, []byte("world"))
	assert.Equal(t, int64(11), length)

	data, last := lob.ReadAt(0, 5)
	assert.Equal(t, "hello", string(data))
	assert.False(t, last)

	data, last = lob.ReadAt(6, 100)
	assert.Equal(t, "world", string(data))
	assert.True(t, last)

	// Sparse write grows the buffer.
	lob.WriteAt(20, []byte("!"))
	assert.Equal(t, int64(21), lob.Length())
}

func TestManager_CleanupLoopStartStop(t *testing.T) {
	m, _, _ := newTestManager(Config{
		CleanupEnabled:  true,
		CleanupInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m.StartCleanup(ctx)
	m.StartCleanup(ctx) // idempotent
	time.Sleep(25 * time.Millisecond)
	m.StopCleanup()
	m.StopCleanup() // idempotent
}
