// Package session owns the server-side sessions: creation, activity
// tracking, timeout cleanup and the per-session statement, LOB and cursor
// tables.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/core/ports"
)

// statementCacheSize bounds the per-session SQL-to-statement lookup cache;
// the least recently used mapping is evicted, while the statement table
// keeps the handle until the session is released.
const statementCacheSize = 256

// Statement is a server-side statement handle.
type Statement struct {
	UUID string
	SQL  string
}

// Lob is an in-session BLOB/CLOB staging buffer, offset-addressable.
type Lob struct {
	UUID string
	Kind string

	mu   sync.RWMutex
	data []byte
}

func (l *Lob) WriteAt(offset int64, chunk []byte) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := offset + int64(len(chunk))
	if int64(len(l.data)) < end {
		grown := make([]byte, end)
		copy(grown, l.data)
		l.data = grown
	}
	copy(l.data[offset:end], chunk)
	return int64(len(l.data))
}

func (l *Lob) ReadAt(offset int64, max int) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if offset >= int64(len(l.data)) {
		return nil, true
	}
	end := offset + int64(max)
	if end > int64(len(l.data)) {
		end = int64(len(l.data))
	}
	out := make([]byte, end-offset)
	copy(out, l.data[offset:end])
	return out, end == int64(len(l.data))
}

func (l *Lob) Length() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.data))
}

// Session is one logical client session pinned to this server. The backend
// connection is exclusively owned and released on termination.
type Session struct {
	ID         string
	ConnHash   string
	ClientUUID string
	IsXA       bool
	CreatedAt  time.Time

	lastActivity atomic.Int64
	terminated   atomic.Bool

	backend ports.BackendSession

	statements *xsync.Map[string, *Statement]
	stmtBySQL  *lru.Cache[string, string]
	lobs       *xsync.Map[string, *Lob]
	cursors    *xsync.Map[string, ports.RowCursor]
}

func (s *Session) Backend() ports.BackendSession {
	return s.backend
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch(now time.Time) {
	// last_activity_time is monotonic; concurrent stale writers lose.
	for {
		prev := s.lastActivity.Load()
		if now.UnixNano() <= prev {
			return
		}
		if s.lastActivity.CompareAndSwap(prev, now.UnixNano()) {
			return
		}
	}
}

// Statement table

func (s *Session) AddStatement(stmt *Statement) {
	s.statements.Store(stmt.UUID, stmt)
	if s.stmtBySQL != nil {
		s.stmtBySQL.Add(stmt.SQL, stmt.UUID)
	}
}

func (s *Session) Statement(uuid string) (*Statement, bool) {
	return s.statements.Load(uuid)
}

// CachedStatement returns a previously prepared statement for the SQL text.
func (s *Session) CachedStatement(sql string) (*Statement, bool) {
	if s.stmtBySQL == nil {
		return nil, false
	}
	uuid, ok := s.stmtBySQL.Get(sql)
	if !ok {
		return nil, false
	}
	return s.statements.Load(uuid)
}

// LOB table

func (s *Session) AddLob(lob *Lob) {
	s.lobs.Store(lob.UUID, lob)
}

func (s *Session) Lob(uuid string) (*Lob, bool) {
	return s.lobs.Load(uuid)
}

// Cursor table

func (s *Session) AddCursor(uuid string, cursor ports.RowCursor) {
	s.cursors.Store(uuid, cursor)
}

func (s *Session) Cursor(uuid string) (ports.RowCursor, bool) {
	return s.cursors.Load(uuid)
}

func (s *Session) CloseCursor(uuid string) {
	if cursor, ok := s.cursors.LoadAndDelete(uuid); ok {
		_ = cursor.Close()
	}
}

// release tears down every resource in order: statements, LOBs, cursors,
// backend connection. A failing step never skips the following ones.
func (s *Session) release() error {
	var firstErr error

	s.statements.Clear()
	if s.stmtBySQL != nil {
		s.stmtBySQL.Purge()
	}
	s.lobs.Clear()

	s.cursors.Range(func(uuid string, cursor ports.RowCursor) bool {
		if err := cursor.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.cursors.Delete(uuid)
		return true
	})

	if s.backend != nil {
		if err := s.backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func invalidSession(id string) error {
	return domain.NewErrorf(domain.KindSessionLost, "session %s is not registered on this server", id)
}
