package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/openjproxy/ojp/internal/core/ports"
	"github.com/openjproxy/ojp/internal/logger"
)

const (
	DefaultSessionTimeout  = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute
)

type Config struct {
	CleanupEnabled  bool
	SessionTimeout  time.Duration
	CleanupInterval time.Duration
}

func (c *Config) withDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = DefaultSessionTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
}

// Manager creates, tracks, times out and cleans up server-side sessions.
type Manager struct {
	sessions *xsync.Map[string, *Session]
	clients  *xsync.Map[string, string] // conn hash -> client uuid

	cfg Config

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	now    func() time.Time
	logger *logger.StyledLogger
}

func NewManager(cfg Config, log *logger.StyledLogger) *Manager {
	cfg.withDefaults()
	return &Manager{
		sessions: xsync.NewMap[string, *Session](),
		clients:  xsync.NewMap[string, string](),
		cfg:      cfg,
		now:      time.Now,
		logger:   log,
	}
}

// RegisterClientUUID records the client identity for a connection hash.
// Called before any session creation for that client.
func (m *Manager) RegisterClientUUID(connHash, clientUUID string) {
	if connHash == "" || clientUUID == "" {
		return
	}
	m.clients.Store(connHash, clientUUID)
}

// ClientUUID returns the registered client for a connection hash.
func (m *Manager) ClientUUID(connHash string) (string, bool) {
	return m.clients.Load(connHash)
}

// CreateSession allocates a session bound to the given backend connection.
func (m *Manager) CreateSession(clientUUID, connHash string, isXA bool, backend ports.BackendSession) *Session {
	now := m.now()
	cache, _ := lru.New[string, string](statementCacheSize)

	s := &Session{
		ID:         uuid.NewString(),
		ConnHash:   connHash,
		ClientUUID: clientUUID,
		IsXA:       isXA,
		CreatedAt:  now,
		backend:    backend,
		statements: xsync.NewMap[string, *Statement](),
		stmtBySQL:  cache,
		lobs:       xsync.NewMap[string, *Lob](),
		cursors:    xsync.NewMap[string, ports.RowCursor](),
	}
	s.lastActivity.Store(now.UnixNano())

	m.sessions.Store(s.ID, s)
	m.logger.InfoWithSession("Created session", s.ID,
		"client", clientUUID,
		"xa", isXA)
	return s
}

// GetSession returns a live session or a session-lost error.
func (m *Manager) GetSession(id string) (*Session, error) {
	if id == "" {
		return nil, invalidSession(id)
	}
	s, ok := m.sessions.Load(id)
	if !ok || s.terminated.Load() {
		return nil, invalidSession(id)
	}
	return s, nil
}

// UpdateActivity bumps the session's activity clock.
func (m *Manager) UpdateActivity(id string) {
	if s, ok := m.sessions.Load(id); ok {
		s.touch(m.now())
	}
}

// TerminateSession releases all session resources. Idempotent; terminating
// an unknown session is a no-op.
func (m *Manager) TerminateSession(id string) error {
	s, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return nil
	}
	if !s.terminated.CompareAndSwap(false, true) {
		return nil
	}

	err := s.release()
	if err != nil {
		m.logger.Warn("Session released with errors",
			"session_id", id,
			"error", err)
	}
	m.logger.InfoWithSession("Terminated session", id)
	return err
}

// GetAllSessions snapshots the live sessions.
func (m *Manager) GetAllSessions() []*Session {
	out := make([]*Session, 0, m.sessions.Size())
	m.sessions.Range(func(_ string, s *Session) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (m *Manager) Len() int {
	return m.sessions.Size()
}

// StartCleanup launches the periodic idle-session scan.
func (m *Manager) StartCleanup(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || !m.cfg.CleanupEnabled {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.CleanupExpired()
			}
		}
	}()
}

func (m *Manager) StopCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
}

// CleanupExpired terminates every session idle past the timeout and
// returns how many were reaped.
func (m *Manager) CleanupExpired() int {
	cutoff := m.now().Add(-m.cfg.SessionTimeout)
	reaped := 0

	m.sessions.Range(func(id string, s *Session) bool {
		if s.LastActivity().Before(cutoff) {
			_ = m.TerminateSession(id)
			reaped++
		}
		return true
	})

	if reaped > 0 {
		m.logger.InfoWithCount("Cleaned up expired sessions", reaped)
	}
	return reaped
}

// SetNowFunc overrides the clock; tests only.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}
