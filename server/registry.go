package server

import (
	"slices"
	"sync"
)

// Registry is the set of authenticated sessions currently online. A username
// appears at most once: adding a session for a name that is already present
// replaces the older session.
type Registry struct {
	mu       sync.RWMutex
	sessions []*Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers an authenticated session and returns the session it
// displaced for the same username, if any. The caller is responsible for
// closing the displaced session.
func (r *Registry) Add(s *Session) (evicted *Session) {
	name := s.Username()

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.sessions {
		if existing == s {
			return nil
		}
		if existing.Username() == name {
			evicted = existing
			r.sessions = slices.Delete(r.sessions, i, i+1)
			break
		}
	}
	r.sessions = append(r.sessions, s)
	return evicted
}

// Remove drops s from the registry. It reports whether s was present, so
// that exactly one caller observes the removal.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := slices.Index(r.sessions, s)
	if i < 0 {
		return false
	}
	r.sessions = slices.Delete(r.sessions, i, i+1)
	return true
}

// Snapshot returns the online sessions in the order they were added.
// The returned slice is owned by the caller.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.sessions)
}

func (r *Registry) Lookup(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sessions {
		if s.Username() == username {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for _, s := range r.sessions {
		names = append(names, s.Username())
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
