package relay

import (
	"errors"
	"sync"
)

// ErrIdentityInUse indicates the claimed identity is already held by
// another live connection. The handshake is rejected and the new
// connection closed; the existing one is untouched.
var ErrIdentityInUse = errors.New("identity already in use")

// Registry maps claimed identities to live sessions and enforces
// identity uniqueness among currently connected peers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// NewRegistry creates an empty identity registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*session)}
}

// Register claims an identity for a session. At most one live session
// may hold a given identity at a time.
func (r *Registry) Register(identity string, s *session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[identity]; taken {
		return ErrIdentityInUse
	}
	r.sessions[identity] = s
	return nil
}

// Lookup returns the session holding an identity, if any. Callers
// perform any send on the returned session outside this lock.
func (r *Registry) Lookup(identity string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[identity]
	return s, ok
}

// Deregister releases an identity, but only if it is still held by
// the given session. A replacement session that registered after a
// dropped one must not be evicted by the late cleanup of its
// predecessor.
func (r *Registry) Deregister(identity string, s *session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[identity]; ok && cur == s {
		delete(r.sessions, identity)
	}
}

// Count returns the number of connected identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
