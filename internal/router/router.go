// Package router implements the per-connection protocol state machine. Each
// WebSocket connection owns one Router, which decodes inbound envelopes,
// binds the connection to a user identity at login, and dispatches envelopes
// to the correct handler and recipient.
package router

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sociable/messenger/internal/metrics"
	"github.com/sociable/messenger/internal/presence"
	"github.com/sociable/messenger/internal/protocol"
	"github.com/sociable/messenger/internal/registry"
	"github.com/sociable/messenger/internal/store"
)

// MessageStore is the persistence gateway consumed by the router. A message
// envelope is forwarded to its recipient only after Insert returns nil.
type MessageStore interface {
	Insert(ctx context.Context, m *store.Message) error
	DeleteByKey(ctx context.Context, key int64) error
}

// Limiter throttles message envelopes per identity. Implementations should
// fail open: when the backing store is unavailable, return true.
type Limiter interface {
	Allow(ctx context.Context, identity string) (bool, error)
}

// Bridge relays envelopes to identities registered on other server
// instances. A nil Bridge means single-instance operation.
type Bridge interface {
	PublishInbox(identity string, data []byte) error
	SubscribeInbox(identity string, handler func(data []byte)) error
	UnsubscribeInbox(identity string) error
}

// Router is the per-connection state machine. It starts unbound; a login
// envelope binds it to an identity, and there is no transition back. All
// envelope handling runs on the connection's read-loop goroutine, so the
// state fields need no locking.
type Router struct {
	conn    registry.Conn
	reg     *registry.Registry
	store   MessageStore
	limiter Limiter
	bridge  Bridge

	bound       bool
	identity    string
	recipientID string
}

// New creates a Router for one connection. limiter and bridge may be nil.
func New(conn registry.Conn, reg *registry.Registry, st MessageStore, limiter Limiter, bridge Bridge) *Router {
	return &Router{
		conn:    conn,
		reg:     reg,
		store:   st,
		limiter: limiter,
		bridge:  bridge,
	}
}

// HandleEnvelope decodes one inbound envelope and dispatches it. Malformed
// or unknown envelopes are logged and dropped; the connection stays open and
// nothing is sent back.
func (r *Router) HandleEnvelope(data []byte) {
	kind, msg, err := protocol.ParseClientEnvelope(data)
	if err != nil {
		metrics.EnvelopesTotal.WithLabelValues("invalid").Inc()
		log.Printf("router: dropping undecodable envelope: %v", err)
		return
	}
	metrics.EnvelopesTotal.WithLabelValues(kind).Inc()

	switch m := msg.(type) {
	case protocol.LoginMsg:
		r.handleLogin(m)
	case protocol.TypingMsg:
		r.handleTyping(m, data)
	case protocol.ChatMsg:
		r.handleMessage(m, data)
	case protocol.DeleteMsg:
		r.handleDelete(m, data)
	}
}

// handleLogin binds the connection to an identity (Unbound -> Bound),
// notifies both parties of the peer's presence, and registers the connection.
// A repeated login on the same connection is re-processed as a fresh login.
func (r *Router) handleLogin(m protocol.LoginMsg) {
	if m.MyIdentity == "" {
		log.Printf("router: dropping login with empty identity")
		return
	}

	r.bound = true
	r.identity = m.MyIdentity
	r.recipientID = m.RecipientID

	if presence.Online(r.reg, m.RecipientID) {
		r.sendPresence(r.reg.Lookup(m.RecipientID), true)
		r.sendPresence(r.conn, true)
	} else {
		// A peer on another instance is reported offline: presence is
		// derived from the local registry only, and delivery is best-effort.
		r.sendPresence(r.conn, false)
	}

	if prev := r.reg.Register(r.identity, r.conn); prev != nil {
		// Relogin supersedes the old session; leave no silent ghost behind.
		log.Printf("router: identity %s relogged in, closing superseded connection", r.identity)
		_ = prev.Close()
	}
	metrics.OnlineIdentities.Set(float64(r.reg.Count()))

	if r.bridge != nil {
		_ = r.bridge.UnsubscribeInbox(r.identity)
		if err := r.bridge.SubscribeInbox(r.identity, func(data []byte) {
			if err := r.conn.Send(data); err != nil {
				log.Printf("router: bridged delivery to %s failed: %v", r.identity, err)
			}
		}); err != nil {
			log.Printf("router: inbox subscribe for %s failed: %v", r.identity, err)
		}
	}

	log.Printf("router: identity %s logged in (peer=%s)", r.identity, r.recipientID)
}

// handleTyping forwards a typing or stop-typing envelope unchanged. Nothing
// is persisted, and an offline recipient means the indicator is silently
// dropped.
func (r *Router) handleTyping(m protocol.TypingMsg, raw []byte) {
	if !r.bound {
		return
	}
	r.forward(m.RecipientID, raw)
}

// handleMessage persists a chat message and, only after the write succeeds,
// forwards the envelope unchanged to the recipient. The sender never gets an
// echo. A failed write is reported to the sender and the envelope is not
// forwarded.
func (r *Router) handleMessage(m protocol.ChatMsg, raw []byte) {
	if !r.bound {
		return
	}
	ctx := context.Background()

	if r.limiter != nil {
		if allowed, _ := r.limiter.Allow(ctx, r.identity); !allowed {
			r.sendError("rate_limited", "too many messages, slow down")
			return
		}
	}

	msg := &store.Message{
		SenderID:      m.SenderID,
		RecipientID:   m.RecipientID,
		SenderName:    m.SenderName,
		RecipientName: m.RecipientName,
		Body:          m.Body,
		Timestamp:     m.Timestamp,
	}

	start := time.Now()
	err := r.store.Insert(ctx, msg)
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("router: persist failed sender=%s ts=%d: %v", m.SenderID, m.Timestamp, err)
		if errors.Is(err, store.ErrDuplicateKey) {
			r.sendError("duplicate_timestamp", "a message with this timestamp already exists")
		} else {
			r.sendError("persist_failed", "message was not saved")
		}
		return
	}

	r.forward(m.RecipientID, raw)
}

// handleDelete removes the persisted record for the envelope's key and
// forwards the delete notice to both ends of the conversation so each
// reconciles local state. Deleting an absent key is not an error.
func (r *Router) handleDelete(m protocol.DeleteMsg, raw []byte) {
	if !r.bound {
		return
	}

	if err := r.store.DeleteByKey(context.Background(), m.MessageKey); err != nil {
		log.Printf("router: delete failed key=%d: %v", m.MessageKey, err)
		r.sendError("delete_failed", "message was not deleted")
		return
	}

	r.forward(r.recipientID, raw)
	if r.conn.IsOpen() {
		if err := r.conn.Send(raw); err != nil {
			log.Printf("router: delete notice to self failed: %v", err)
		}
	}
}

// HandleClose runs when the transport closes. A bound connection notifies
// its last-known peer that it went offline, then conditionally unregisters
// itself; the conditional form keeps a racing relogin's fresh entry intact.
func (r *Router) HandleClose() {
	if !r.bound {
		return
	}

	if peer := r.reg.Lookup(r.recipientID); peer != nil && peer.IsOpen() {
		r.sendPresence(peer, false)
	}

	if r.reg.Unregister(r.identity, r.conn) {
		if r.bridge != nil {
			// Only the current holder of the registry entry owns the inbox
			// subscription; a superseded connection must not tear down its
			// replacement's.
			_ = r.bridge.UnsubscribeInbox(r.identity)
		}
	}
	metrics.OnlineIdentities.Set(float64(r.reg.Count()))

	log.Printf("router: identity %s disconnected", r.identity)
}

// forward delivers an envelope to the recipient's connection if one is
// registered and open, falling back to the bridge for identities on other
// instances. A missing or closed recipient is treated as offline, never as
// an error.
func (r *Router) forward(recipientID string, data []byte) {
	if peer := r.reg.Lookup(recipientID); peer != nil && peer.IsOpen() {
		if err := peer.Send(data); err != nil {
			metrics.ForwardsTotal.WithLabelValues("failed").Inc()
			log.Printf("router: forward to %s failed: %v", recipientID, err)
			return
		}
		metrics.ForwardsTotal.WithLabelValues("delivered").Inc()
		return
	}

	if r.bridge != nil {
		if err := r.bridge.PublishInbox(recipientID, data); err != nil {
			metrics.ForwardsTotal.WithLabelValues("failed").Inc()
			log.Printf("router: bridge publish to %s failed: %v", recipientID, err)
			return
		}
		metrics.ForwardsTotal.WithLabelValues("bridged").Inc()
		return
	}

	metrics.ForwardsTotal.WithLabelValues("offline").Inc()
}

// sendPresence writes an isOnline envelope to the given connection.
func (r *Router) sendPresence(conn registry.Conn, online bool) {
	if conn == nil {
		return
	}
	data, err := presence.Envelope(online)
	if err != nil {
		log.Printf("router: failed to build presence envelope: %v", err)
		return
	}
	if err := conn.Send(data); err != nil {
		log.Printf("router: presence send failed: %v", err)
	}
}

// sendError reports a failure back to the originating connection.
func (r *Router) sendError(code, message string) {
	data, err := protocol.NewServerEnvelope(protocol.KindError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("router: failed to build error envelope: %v", err)
		return
	}
	if err := r.conn.Send(data); err != nil {
		log.Printf("router: error send failed: %v", err)
	}
}
