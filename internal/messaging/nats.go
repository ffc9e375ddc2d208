// Package messaging provides a NATS client wrapper used to relay envelopes
// between messenger server instances. Each instance subscribes an inbox
// subject per locally connected identity; a router whose recipient is not in
// the local registry publishes to the recipient's inbox instead.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectInbox is the subject prefix for per-identity envelope delivery
// (subject form: dm.inbox.<identity>).
const SubjectInbox = "dm.inbox"

// NATSClient wraps the NATS connection with helper methods for the
// per-identity inbox channels.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "messenger",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// PublishInbox publishes an envelope to the identity's inbox subject. The
// instance currently holding that identity's connection delivers it.
func (c *NATSClient) PublishInbox(identity string, data []byte) error {
	return c.conn.Publish(SubjectInbox+"."+identity, data)
}

// SubscribeInbox registers a handler for the identity's inbox subject,
// replacing any previous subscription for the same identity on this client.
func (c *NATSClient) SubscribeInbox(identity string, handler func(data []byte)) error {
	subject := SubjectInbox + "." + identity
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if prev, ok := c.subs[identity]; ok {
		_ = prev.Unsubscribe()
	}
	c.subs[identity] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeInbox removes the identity's inbox subscription.
func (c *NATSClient) UnsubscribeInbox(identity string) error {
	c.mu.Lock()
	sub, ok := c.subs[identity]
	if ok {
		delete(c.subs, identity)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("nats: no inbox subscription for %s", identity)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe inbox %s: %w", identity, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for identity, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain inbox %s: %v", identity, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
