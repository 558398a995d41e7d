package registry

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/openjproxy/ojp/internal/core/domain"
	"github.com/openjproxy/ojp/internal/logger"
)

// SessionTracker maps live sessions to their bound endpoint and remembers
// which endpoints accepted connect() for each logical connection. Lookups
// never synthesise a binding; only the façade binds after a successful
// connect.
type SessionTracker struct {
	bindings *xsync.Map[string, *domain.Endpoint]
	connects *xsync.Map[string, *endpointSet]
	logger   *logger.StyledLogger
}

type endpointSet struct {
	mu        sync.Mutex
	endpoints map[string]*domain.Endpoint
}

func (s *endpointSet) add(e *domain.Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[e.Key()] = e
}

func (s *endpointSet) snapshot() []*domain.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Endpoint, 0, len(s.endpoints))
	for _, e := range s.endpoints {
		out = append(out, e)
	}
	return out
}

func NewSessionTracker(log *logger.StyledLogger) *SessionTracker {
	return &SessionTracker{
		bindings: xsync.NewMap[string, *domain.Endpoint](),
		connects: xsync.NewMap[string, *endpointSet](),
		logger:   log,
	}
}

// Bind inserts or overwrites the endpoint binding for a session. Empty
// session ids and nil endpoints are rejected with a warning rather than
// panicking a hot RPC path.
func (t *SessionTracker) Bind(sessionID string, endpoint *domain.Endpoint) {
	if sessionID == "" || endpoint == nil {
		t.logger.Warn("Ignoring invalid session binding",
			"session_id", sessionID,
			"endpoint_nil", endpoint == nil)
		return
	}
	t.bindings.Store(sessionID, endpoint)
}

// Unbind removes a binding; unbinding an unknown session is a no-op.
func (t *SessionTracker) Unbind(sessionID string) {
	if sessionID == "" {
		return
	}
	t.bindings.Delete(sessionID)
}

// Lookup returns the bound endpoint, or nil when the session is unknown.
func (t *SessionTracker) Lookup(sessionID string) *domain.Endpoint {
	if sessionID == "" {
		return nil
	}
	e, _ := t.bindings.Load(sessionID)
	return e
}

// RecordConnect accumulates the endpoints that accepted connect() for a
// logical connection so terminate can fan out without leaking sessions.
func (t *SessionTracker) RecordConnect(connHash string, endpoint *domain.Endpoint) {
	if connHash == "" || endpoint == nil {
		return
	}
	set, _ := t.connects.LoadOrStore(connHash, &endpointSet{endpoints: make(map[string]*domain.Endpoint)})
	set.add(endpoint)
}

// ConnectedEndpoints returns every endpoint that saw connect() for connHash.
func (t *SessionTracker) ConnectedEndpoints(connHash string) []*domain.Endpoint {
	set, ok := t.connects.Load(connHash)
	if !ok {
		return nil
	}
	return set.snapshot()
}

// ForgetConnection drops the connect bookkeeping for a logical connection.
func (t *SessionTracker) ForgetConnection(connHash string) {
	t.connects.Delete(connHash)
}

// InvalidateEndpoint atomically drops every binding pointing at the endpoint
// and returns the affected session ids.
func (t *SessionTracker) InvalidateEndpoint(endpoint *domain.Endpoint) []string {
	if endpoint == nil {
		return nil
	}
	var dropped []string
	t.bindings.Range(func(sessionID string, bound *domain.Endpoint) bool {
		if bound.Key() == endpoint.Key() {
			if _, deleted := t.bindings.LoadAndDelete(sessionID); deleted {
				dropped = append(dropped, sessionID)
			}
		}
		return true
	})
	return dropped
}

// CountFor returns the number of sessions currently bound to the endpoint;
// this is the load signal the least-sessions selector reads.
func (t *SessionTracker) CountFor(endpoint *domain.Endpoint) int {
	if endpoint == nil {
		return 0
	}
	count := 0
	t.bindings.Range(func(_ string, bound *domain.Endpoint) bool {
		if bound.Key() == endpoint.Key() {
			count++
		}
		return true
	})
	return count
}

// Len returns the number of live bindings.
func (t *SessionTracker) Len() int {
	return t.bindings.Size()
}
