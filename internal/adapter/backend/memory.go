// Package backend hosts the driver registry and the built-in in-memory
// backend. Real database adapters register themselves here; the memory
// backend keeps the proxy runnable stand-alone and carries the test load.
package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
)

// MemoryDriver is a backend that accepts any SQL, records updates and
// serves stubbed query results. One XA branch table is shared across its
// sessions, the way one resource manager backs many connections.
type MemoryDriver struct {
	mu       sync.Mutex
	results  map[string]stubResult
	executed []string
	xa       *memoryXA
}

type stubResult struct {
	columns []string
	rows    [][]any
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		results: make(map[string]stubResult),
		xa:      newMemoryXA(),
	}
}

func (d *MemoryDriver) Name() string { return "memory" }

// StubQuery registers a canned result for a SQL text.
func (d *MemoryDriver) StubQuery(sql string, columns []string, rows [][]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results[sql] = stubResult{columns: columns, rows: rows}
}

// Executed returns the update statements run so far.
func (d *MemoryDriver) Executed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.executed))
	copy(out, d.executed)
	return out
}

func (d *MemoryDriver) Open(ctx context.Context, dsn string) (ports.BackendSession, error) {
	return &memorySession{driver: d}, nil
}

type memorySession struct {
	driver *MemoryDriver

	mu     sync.Mutex
	closed bool
	inTx   bool
}

func (s *memorySession) ExecuteUpdate(ctx context.Context, sql string, params []any) (int64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, fmt.Errorf("memory: session closed")
	}
	s.mu.Unlock()

	s.driver.mu.Lock()
	s.driver.executed = append(s.driver.executed, sql)
	s.driver.mu.Unlock()
	return 1, nil
}

func (s *memorySession) ExecuteQuery(ctx context.Context, sql string, params []any) (ports.RowCursor, error) {
	s.driver.mu.Lock()
	result, ok := s.driver.results[sql]
	s.driver.mu.Unlock()
	if !ok {
		result = stubResult{columns: []string{"result"}, rows: [][]any{}}
	}
	return &memoryCursor{columns: result.columns, rows: result.rows}, nil
}

func (s *memorySession) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = true
	return nil
}

func (s *memorySession) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	return nil
}

func (s *memorySession) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	return nil
}

func (s *memorySession) IsHealthy(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *memorySession) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inTx = false
	return nil
}

func (s *memorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memorySession) XAResource() (ports.XAResource, bool) {
	return s.driver.xa, true
}

type memoryCursor struct {
	mu      sync.Mutex
	columns []string
	rows    [][]any
	pos     int
	closed  bool
}

func (c *memoryCursor) Columns() []string { return c.columns }

func (c *memoryCursor) Next(max int) ([][]any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, fmt.Errorf("memory: cursor closed")
	}
	if max <= 0 {
		max = 1
	}
	end := c.pos + max
	if end > len(c.rows) {
		end = len(c.rows)
	}
	out := c.rows[c.pos:end]
	c.pos = end
	return out, c.pos < len(c.rows), nil
}

func (c *memoryCursor) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// memoryXA is the shared branch table of the in-memory resource manager.
type memoryXA struct {
	mu       sync.Mutex
	branches map[domain.XidKey]domain.TxState
	// calls counts backend invocations per operation; tests assert
	// idempotent paths skip the backend.
	calls     map[string]int
	prepareRC int32
}

func newMemoryXA() *memoryXA {
	return &memoryXA{
		branches:  make(map[domain.XidKey]domain.TxState),
		calls:     make(map[string]int),
		prepareRC: domain.XAOK,
	}
}

// SetPrepareResult stubs the next prepare return codes (XA_OK or
// XA_RDONLY).
func (x *memoryXA) SetPrepareResult(rc int32) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.prepareRC = rc
}

func (x *memoryXA) Calls(op string) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.calls[op]
}

func (x *memoryXA) Start(ctx context.Context, xid domain.Xid, flags int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls["start"]++
	x.branches[xid.Key()] = domain.TxActive
	return nil
}

func (x *memoryXA) End(ctx context.Context, xid domain.Xid, flags int32) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls["end"]++
	x.branches[xid.Key()] = domain.TxEnded
	return nil
}

func (x *memoryXA) Prepare(ctx context.Context, xid domain.Xid) (int32, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls["prepare"]++
	if x.prepareRC == domain.XARDONLY {
		x.branches[xid.Key()] = domain.TxCommitted
		return domain.XARDONLY, nil
	}
	x.branches[xid.Key()] = domain.TxPrepared
	return x.prepareRC, nil
}

func (x *memoryXA) Commit(ctx context.Context, xid domain.Xid, onePhase bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls["commit"]++
	x.branches[xid.Key()] = domain.TxCommitted
	return nil
}

func (x *memoryXA) Rollback(ctx context.Context, xid domain.Xid) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls["rollback"]++
	x.branches[xid.Key()] = domain.TxRolledBack
	return nil
}

func (x *memoryXA) Recover(ctx context.Context, flags int32) ([]domain.Xid, error) {
	return nil, nil
}

func (x *memoryXA) Forget(ctx context.Context, xid domain.Xid) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.branches, xid.Key())
	return nil
}

func (x *memoryXA) SetTransactionTimeout(seconds int32) error { return nil }

func (x *memoryXA) GetTransactionTimeout() (int32, error) { return 0, nil }

func (x *memoryXA) IsSameRM(other ports.XAResource) bool {
	o, ok := other.(*memoryXA)
	return ok && o == x
}

// BranchState exposes the branch table for tests.
func (x *memoryXA) BranchState(xid domain.Xid) (domain.TxState, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	state, ok := x.branches[xid.Key()]
	return state, ok
}

// XA returns the driver's resource manager for test assertions.
func (d *MemoryDriver) XA() *memoryXA { return d.xa }
