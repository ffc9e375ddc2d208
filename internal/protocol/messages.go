// Package protocol defines the WebSocket envelope types exchanged between
// clients and the relay. Every envelope is a JSON object with a "kind"
// discriminator selecting one of a fixed set of variants.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Envelope kind constants
// ---------------------------------------------------------------------------

// Client -> Server envelope kinds.
const (
	KindLogin         = "login"
	KindTyping        = "typing"
	KindStopTyping    = "stop-typing"
	KindMessage       = "message"
	KindDeleteMessage = "delete-message"
)

// Server -> Client envelope kinds.
const (
	KindIsOnline = "isOnline"
	KindError    = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the kind discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the envelope kind and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Kind string          `json:"kind"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "kind" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Kind == "" {
		return fmt.Errorf("protocol: missing or empty \"kind\" field")
	}
	e.Kind = partial.Kind
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server envelope structs
// ---------------------------------------------------------------------------

// LoginMsg binds the connection to a user identity and names the peer the
// client is conversing with.
type LoginMsg struct {
	Kind        string `json:"kind"`
	MyIdentity  string `json:"myIdentity"`
	RecipientID string `json:"recipientId"`
	DisplayName string `json:"displayName"`
}

// TypingMsg is a typing indicator relayed to the recipient. The same shape
// serves both the "typing" and "stop-typing" kinds.
type TypingMsg struct {
	Kind        string `json:"kind"`
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
}

// ChatMsg is a direct message to be persisted and forwarded. The timestamp
// doubles as the message's deletion key.
type ChatMsg struct {
	Kind          string `json:"kind"`
	SenderID      string `json:"senderId"`
	RecipientID   string `json:"recipientId"`
	SenderName    string `json:"senderName"`
	RecipientName string `json:"recipientName"`
	Body          string `json:"body"`
	Timestamp     int64  `json:"timestamp"`
}

// DeleteMsg requests removal of a persisted message by its key. It is
// forwarded to both parties so each end reconciles local state.
type DeleteMsg struct {
	Kind       string `json:"kind"`
	MessageKey int64  `json:"messageKey"`
}

// ---------------------------------------------------------------------------
// Server -> Client envelope structs
// ---------------------------------------------------------------------------

// PresenceMsg reports the online state of the peer the client referenced at
// login time.
type PresenceMsg struct {
	Kind     string `json:"kind"`
	IsOnline bool   `json:"isOnline"`
}

// ErrorMsg is sent by the server to communicate a failure, such as a message
// that could not be persisted.
type ErrorMsg struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEnvelope parses raw WebSocket bytes into a typed client envelope.
// It returns the envelope kind, the decoded struct, and any error encountered
// during parsing. An error is returned for unknown or server-only kinds.
func ParseClientEnvelope(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse envelope: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Kind {
	case KindLogin:
		var m LoginMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case KindTyping, KindStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case KindMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case KindDeleteMessage:
		var m DeleteMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Kind, nil, fmt.Errorf("protocol: unknown client envelope kind: %q", env.Kind)
	}

	if err != nil {
		return env.Kind, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Kind, err)
	}
	return env.Kind, msg, nil
}

// NewServerEnvelope creates a JSON-encoded byte slice for a server envelope.
// The kind is injected into the payload under the "kind" key. The payload
// should be one of the server envelope structs; this function marshals it to
// JSON, injects the kind field, and returns the final bytes.
func NewServerEnvelope(kind string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["kind"] = kind

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server envelope: %w", err)
	}
	return out, nil
}
