// Package registry holds the mapping from token to live client session
// (§4.D).
package registry

import (
	"net"
	"sync"
	"time"
)

// Session is a registered tunnel client's control connection. Conn is the
// duplex stream; WriteMu must be held for the duration of any write to Conn
// so that interleaved request frames cannot interleave their bytes.
type Session struct {
	Token       string
	TargetPort  int
	RemoteAddr  string
	ConnectedAt time.Time

	Conn    net.Conn
	WriteMu sync.Mutex

	closed bool
	mu     sync.Mutex
}

// MarkClosed records that this session's stream is gone. Safe to call more
// than once.
func (s *Session) MarkClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Alive reports whether the session's stream is still usable.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Registry is the token -> *Session map. All operations are safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register inserts session under token, closing and replacing any prior
// session for the same token (§4.D: at most one live session per token).
// The evicted session, if any, is returned so the caller can close its
// connection outside the registry lock.
func (r *Registry) Register(token string, session *Session) (evicted *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted = r.sessions[token]
	r.sessions[token] = session
	return evicted
}

// Deregister removes token's entry only if the stored session is the same
// object as session (compare-by-identity), so a late close from a
// since-replaced session can't evict the newer one.
func (r *Registry) Deregister(token string, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[token]; ok && current == session {
		delete(r.sessions, token)
	}
}

// Lookup returns the live session for token, if any.
func (r *Registry) Lookup(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	return s, ok
}

// Len reports the number of registered sessions, live or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectedEntry describes one tunnel for /internal/connected-tokens (§4.H).
type ConnectedEntry struct {
	Token       string
	ClientIP    string
	TargetPort  int
	ConnectedAt time.Time
}

// Snapshot performs the liveness sweep required before answering
// /internal/connected-tokens: dead sessions are evicted and the remainder is
// returned as a slice of ConnectedEntry.
func (r *Registry) Snapshot() []ConnectedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]ConnectedEntry, 0, len(r.sessions))
	for token, s := range r.sessions {
		if !s.Alive() {
			delete(r.sessions, token)
			continue
		}
		entries = append(entries, ConnectedEntry{
			Token:       s.Token,
			ClientIP:    s.RemoteAddr,
			TargetPort:  s.TargetPort,
			ConnectedAt: s.ConnectedAt,
		})
	}
	return entries
}

// Sweep drops dead sessions from the registry (§4.J) and returns how many
// were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for token, s := range r.sessions {
		if !s.Alive() {
			delete(r.sessions, token)
			removed++
		}
	}
	return removed
}
