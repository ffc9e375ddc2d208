// Package ws handles WebSocket connection management: upgrading HTTP
// connections, running one read-loop goroutine per connection, and handing
// decoded frames to the per-connection session handler.
package ws

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/sociable/messenger/internal/metrics"
)

// SessionHandler consumes the lifetime of one connection: every complete text
// frame is passed to HandleEnvelope, and HandleClose is called exactly once
// when the transport closes for any reason.
type SessionHandler interface {
	HandleEnvelope(data []byte)
	HandleClose()
}

// SessionFactory creates the session handler for a freshly upgraded
// connection.
type SessionFactory func(conn *Connection) SessionHandler

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	MaxConnections int           // hard cap on total connections
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MaxConnections: 100000,
		WriteTimeout:   10 * time.Second,
	}
}

// Server upgrades HTTP connections to WebSocket and serves each one with a
// dedicated read-loop goroutine. Frames are handed to the connection's
// SessionHandler; the handler's close hook runs when the read loop ends,
// whether from a client close frame, a transport error, or a heartbeat
// eviction.
type Server struct {
	config    ServerConfig
	conns     *ConnectionManager
	sessions  SessionFactory
	startedAt time.Time

	mu       sync.Mutex
	handlers map[string]SessionHandler // connection ID -> session
	done     chan struct{}
	closed   bool
}

// NewServer creates a Server with the given configuration and session
// factory.
func NewServer(config ServerConfig, sessions SessionFactory) *Server {
	return &Server{
		config:    config,
		conns:     NewConnectionManager(),
		sessions:  sessions,
		startedAt: time.Now(),
		handlers:  make(map[string]SessionHandler),
		done:      make(chan struct{}),
	}
}

// HandleUpgrade upgrades an HTTP request to a WebSocket connection using the
// gobwas/ws zero-copy upgrader. On success it registers the connection,
// creates its session handler, and starts the read loop. It is intended to be
// mounted on the application mux.
func (s *Server) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &Connection{
		ID:           uuid.New().String(),
		Conn:         conn,
		CreatedAt:    time.Now(),
		LastPing:     time.Now(),
		writeTimeout: s.config.WriteTimeout,
	}

	s.conns.Add(c)
	metrics.ConnectionsTotal.Inc()

	session := s.sessions(c)
	s.mu.Lock()
	s.handlers[c.ID] = session
	s.mu.Unlock()

	go s.readLoop(c, session)

	log.Printf("ws: new connection id=%s (total=%d)", c.ID, s.conns.Count())
}

// HandleHealth responds with the server's health status as JSON, including
// the current connection count and uptime.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// readLoop reads frames from the connection until it closes. Control frames
// only refresh the liveness timestamp; data frames are handed to the session
// handler. The handler runs inline, so an envelope is fully processed
// (including any persistence write) before the next frame is read and before
// close handling can begin.
func (s *Server) readLoop(c *Connection, session SessionHandler) {
	defer s.teardown(c, session)

	for {
		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			return
		}

		c.LastPing = time.Now()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				return
			}
			if header.OpCode == ws.OpPing {
				// Drain the ping payload, then answer so clients behind
				// strict proxies keep the connection alive.
				if _, err := io.Copy(io.Discard, reader); err != nil {
					return
				}
				if err := s.writePong(c); err != nil {
					return
				}
				continue
			}
			// Pong: liveness already recorded, discard the payload.
			if _, err := io.Copy(io.Discard, reader); err != nil {
				return
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return
			}
		}
		if len(data) == 0 {
			continue
		}

		session.HandleEnvelope(data)
	}
}

// teardown runs the single cleanup path for a connection: remove it from the
// manager, then run the session's close hook. The manager's Remove return
// value guards against double cleanup when a read error races with a
// heartbeat eviction.
func (s *Server) teardown(c *Connection, session SessionHandler) {
	c.Close()
	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	s.mu.Lock()
	delete(s.handlers, c.ID)
	s.mu.Unlock()

	session.HandleClose()
	log.Printf("ws: connection closed id=%s (total=%d)", c.ID, s.conns.Count())
}

// writePong answers a client ping frame.
func (s *Server) writePong(c *Connection) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPongFrame(nil))
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat monitor).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown closes all active connections and stops background monitors. Each
// connection's read loop observes the closed transport and runs its session
// close hook.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	log.Println("ws: shutting down, closing all connections")
	for _, c := range s.conns.All() {
		_ = c.Close()
	}
}
