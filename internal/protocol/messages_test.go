package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid login envelope
// ---------------------------------------------------------------------------

func TestParseClientEnvelope_Login(t *testing.T) {
	input := []byte(`{"kind":"login","myIdentity":"alice","recipientId":"bob","displayName":"Alice"}`)

	kind, msg, err := ParseClientEnvelope(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindLogin {
		t.Fatalf("expected kind %q, got %q", KindLogin, kind)
	}

	lm, ok := msg.(LoginMsg)
	if !ok {
		t.Fatalf("expected LoginMsg, got %T", msg)
	}
	if lm.MyIdentity != "alice" {
		t.Errorf("expected myIdentity %q, got %q", "alice", lm.MyIdentity)
	}
	if lm.RecipientID != "bob" {
		t.Errorf("expected recipientId %q, got %q", "bob", lm.RecipientID)
	}
	if lm.DisplayName != "Alice" {
		t.Errorf("expected displayName %q, got %q", "Alice", lm.DisplayName)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message envelope
// ---------------------------------------------------------------------------

func TestParseClientEnvelope_ChatMsg(t *testing.T) {
	input := []byte(`{"kind":"message","senderId":"alice","recipientId":"bob","senderName":"Alice","recipientName":"Bob","body":"hi","timestamp":1000}`)

	kind, msg, err := ParseClientEnvelope(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindMessage {
		t.Fatalf("expected kind %q, got %q", KindMessage, kind)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.SenderID != "alice" || cm.RecipientID != "bob" {
		t.Errorf("unexpected parties: sender=%q recipient=%q", cm.SenderID, cm.RecipientID)
	}
	if cm.Body != "hi" {
		t.Errorf("expected body %q, got %q", "hi", cm.Body)
	}
	if cm.Timestamp != 1000 {
		t.Errorf("expected timestamp 1000, got %d", cm.Timestamp)
	}
}

// ---------------------------------------------------------------------------
// Test: typing and stop-typing decode into the same struct
// ---------------------------------------------------------------------------

func TestParseClientEnvelope_TypingKinds(t *testing.T) {
	for _, kind := range []string{KindTyping, KindStopTyping} {
		input := []byte(`{"kind":"` + kind + `","senderId":"alice","recipientId":"bob"}`)

		got, msg, err := ParseClientEnvelope(input)
		if err != nil {
			t.Fatalf("kind %q: unexpected error: %v", kind, err)
		}
		if got != kind {
			t.Fatalf("expected kind %q, got %q", kind, got)
		}

		tm, ok := msg.(TypingMsg)
		if !ok {
			t.Fatalf("kind %q: expected TypingMsg, got %T", kind, msg)
		}
		if tm.SenderID != "alice" || tm.RecipientID != "bob" {
			t.Errorf("kind %q: unexpected parties: %+v", kind, tm)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a delete-message envelope
// ---------------------------------------------------------------------------

func TestParseClientEnvelope_DeleteMsg(t *testing.T) {
	input := []byte(`{"kind":"delete-message","messageKey":1000}`)

	kind, msg, err := ParseClientEnvelope(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if kind != KindDeleteMessage {
		t.Fatalf("expected kind %q, got %q", KindDeleteMessage, kind)
	}

	dm, ok := msg.(DeleteMsg)
	if !ok {
		t.Fatalf("expected DeleteMsg, got %T", msg)
	}
	if dm.MessageKey != 1000 {
		t.Errorf("expected messageKey 1000, got %d", dm.MessageKey)
	}
}

// ---------------------------------------------------------------------------
// Test: malformed and unknown envelopes
// ---------------------------------------------------------------------------

func TestParseClientEnvelope_Malformed(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"missing kind", `{"senderId":"alice"}`},
		{"empty kind", `{"kind":""}`},
		{"unknown kind", `{"kind":"shrug"}`},
		{"server-only kind", `{"kind":"isOnline","isOnline":true}`},
		{"wrong field type", `{"kind":"delete-message","messageKey":"not-a-number"}`},
	}

	for _, tc := range cases {
		if _, _, err := ParseClientEnvelope([]byte(tc.input)); err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Creating an isOnline server envelope
// ---------------------------------------------------------------------------

func TestNewServerEnvelope_Presence(t *testing.T) {
	data, err := NewServerEnvelope(KindIsOnline, PresenceMsg{IsOnline: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["kind"] != KindIsOnline {
		t.Errorf("expected kind %q, got %v", KindIsOnline, result["kind"])
	}
	if result["isOnline"] != true {
		t.Errorf("expected isOnline true, got %v", result["isOnline"])
	}
}

// ---------------------------------------------------------------------------
// Test: Creating an error server envelope
// ---------------------------------------------------------------------------

func TestNewServerEnvelope_Error(t *testing.T) {
	data, err := NewServerEnvelope(KindError, ErrorMsg{Code: "persist_failed", Message: "message was not saved"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["kind"] != KindError {
		t.Errorf("expected kind %q, got %v", KindError, result["kind"])
	}
	if result["code"] != "persist_failed" {
		t.Errorf("expected code %q, got %v", "persist_failed", result["code"])
	}
}
