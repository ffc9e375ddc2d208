// Package registry maintains the authoritative mapping from user identity to
// its single live connection. It is the only piece of state shared across
// connections, so every operation is safe under concurrent invocation from
// any number of per-connection goroutines.
package registry

import "sync"

// Conn is the minimal view of a live connection the registry and the router
// need. *ws.Connection satisfies it; tests substitute fakes.
type Conn interface {
	// Send writes one protocol envelope to the connection.
	Send(data []byte) error

	// IsOpen reports whether the connection can still be written to.
	IsOpen() bool

	// Close tears down the underlying transport.
	Close() error
}

// Registry is a mutex-guarded identity -> connection map. For a given
// identity at most one entry exists at any instant; registering a new
// connection atomically replaces the old entry.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New creates an empty Registry ready for use.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register inserts or overwrites the entry for identity and returns the
// superseded connection, or nil if the identity was not present. The registry
// never closes the superseded connection itself; that policy belongs to the
// caller.
func (r *Registry) Register(identity string, conn Conn) Conn {
	r.mu.Lock()
	prev := r.conns[identity]
	r.conns[identity] = conn
	r.mu.Unlock()

	if prev == conn {
		return nil
	}
	return prev
}

// Lookup returns the current connection for identity, or nil if none is
// registered.
func (r *Registry) Lookup(identity string) Conn {
	r.mu.RLock()
	conn := r.conns[identity]
	r.mu.RUnlock()
	return conn
}

// Unregister removes the entry for identity only if its current connection is
// still expected. The conditional form prevents a stale close event from
// evicting a connection that has since replaced it via relogin. It returns
// true if the entry was removed.
func (r *Registry) Unregister(identity string, expected Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.conns[identity]; ok && cur == expected {
		delete(r.conns, identity)
		return true
	}
	return false
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}
