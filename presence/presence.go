// Package presence tracks which connection currently represents each
// online user. At most one connection is registered per user at any
// instant; a reconnect overwrites and the superseded connection's own
// unregister is a guarded no-op.
package presence

import "sync"

// Registry maps user id to the id of the user's single live connection.
// All operations are safe for concurrent use; the map never escapes.
type Registry struct {
	mu     sync.RWMutex
	online map[string]string
}

func NewRegistry() *Registry {
	return &Registry{online: make(map[string]string)}
}

// Register makes connID the user's current connection, unconditionally
// overwriting any existing entry. It returns the superseded connection id
// so the caller can evict it; ok is false when there was none.
func (r *Registry) Register(userID, connID string) (prev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok = r.online[userID]
	r.online[userID] = connID
	return prev, ok
}

// Unregister removes the user's entry only if it still points at connID.
// A disconnect event from a connection that has already been superseded
// therefore never evicts the newer registration.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.online[userID] != connID {
		return false
	}
	delete(r.online, userID)
	return true
}

// Lookup returns the user's current connection id, if any.
func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connID, ok := r.online[userID]
	return connID, ok
}

// Snapshot returns a point-in-time copy of the online map for diagnostics.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]string, len(r.online))
	for userID, connID := range r.online {
		snap[userID] = connID
	}
	return snap
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}
