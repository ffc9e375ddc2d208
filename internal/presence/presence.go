// Package presence derives online/offline status on demand. There is no
// presence store: truth is always re-derived from the registry at call time,
// so status can never go stale.
package presence

import (
	"github.com/sociable/messenger/internal/protocol"
	"github.com/sociable/messenger/internal/registry"
)

// Online reports whether identity currently has a registered, open
// connection.
func Online(reg *registry.Registry, identity string) bool {
	conn := reg.Lookup(identity)
	return conn != nil && conn.IsOpen()
}

// Envelope builds the server-originated isOnline envelope for the given
// state.
func Envelope(online bool) ([]byte, error) {
	return protocol.NewServerEnvelope(protocol.KindIsOnline, protocol.PresenceMsg{IsOnline: online})
}
