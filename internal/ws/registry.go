package ws

import (
	"sort"
	"sync"
)

// Registry maps a user id to its single active connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Client)}
}

// Register maps userID to client and returns the connection it replaced, if any.
func (r *Registry) Register(userID string, client *Client) *Client {
	return r.RegisterFunc(userID, client, nil)
}

// RegisterFunc is Register with fn run before the lock is released. fn
// receives the replaced connection (nil when there was none) and must not
// block or call back into the registry.
func (r *Registry) RegisterFunc(userID string, client *Client, fn func(prev *Client)) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = client
	if prev == client {
		prev = nil
	}
	if fn != nil {
		fn(prev)
	}
	return prev
}

// Unregister removes the mapping only while it still points at client.
// A superseded connection closing late must not evict its replacement.
func (r *Registry) Unregister(userID string, client *Client) bool {
	return r.UnregisterFunc(userID, client, nil)
}

// UnregisterFunc is Unregister with fn run under the lock, only when the
// mapping was removed. The same restrictions as RegisterFunc apply to fn.
func (r *Registry) UnregisterFunc(userID string, client *Client, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[userID]
	if !ok || cur != client {
		return false
	}
	delete(r.conns, userID)
	if fn != nil {
		fn()
	}
	return true
}

// Clients returns the registered connections at the time of the call.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Lookup returns the active connection for userID.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Online returns the connected user ids, sorted.
func (r *Registry) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
