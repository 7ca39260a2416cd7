package presence

import "sync"

// Registry maps online users to their live connection. One connection per
// user: a later Register replaces the earlier one.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]string
	byConn map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Register binds userID to connID. A previous connection of the same user
// loses its binding but stays open.
func (r *Registry) Register(userID, connID string) {
	if userID == "" || connID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok && prev != connID {
		delete(r.byConn, prev)
	}
	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		delete(r.byUser, prevUser)
	}
	r.byUser[userID] = connID
	r.byConn[connID] = userID
}

func (r *Registry) Lookup(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byUser[userID]
	return connID, ok
}

// Unregister drops the binding held by connID. A user who has since
// reconnected on another connection is left alone.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if r.byUser[userID] == connID {
		delete(r.byUser, userID)
	}
}

// Len reports the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
