package server

import "sync"

// Registry tracks active sessions, keyed both by session ID and by the
// peer's transport address so the UDP demultiplexer can route inbound
// datagrams. It is safe for concurrent access.
type Registry struct {
	mu sync.RWMutex

	// sessions maps sessionID -> Session
	sessions map[string]*Session

	// byAddr maps remote address string -> Session
	byAddr map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byAddr:   make(map[string]*Session),
	}
}

// Add registers a session under its ID and remote address.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID] = s
	r.byAddr[s.RemoteAddr.String()] = s
}

// Remove drops a session. It reports whether the session was present.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, exists := r.sessions[sessionID]
	if !exists {
		return false
	}
	delete(r.sessions, sessionID)
	delete(r.byAddr, s.RemoteAddr.String())
	return true
}

// Get returns a session by ID.
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.sessions[sessionID]
	return s, exists
}

// GetByAddr returns the session for a remote address.
func (r *Registry) GetByAddr(addr string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.byAddr[addr]
	return s, exists
}

// All returns a snapshot of the active sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
