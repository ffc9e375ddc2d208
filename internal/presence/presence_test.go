package presence

import (
	"encoding/json"
	"testing"

	"github.com/sociable/messenger/internal/registry"
)

type fakeConn struct {
	open bool
}

func (f *fakeConn) Send(data []byte) error { return nil }
func (f *fakeConn) IsOpen() bool           { return f.open }
func (f *fakeConn) Close() error           { f.open = false; return nil }

func TestOnline(t *testing.T) {
	reg := registry.New()

	if Online(reg, "alice") {
		t.Error("unregistered identity reported online")
	}

	c := &fakeConn{open: true}
	reg.Register("alice", c)
	if !Online(reg, "alice") {
		t.Error("registered open connection reported offline")
	}

	// A registered but closed connection counts as offline.
	c.open = false
	if Online(reg, "alice") {
		t.Error("closed connection reported online")
	}
}

func TestEnvelope(t *testing.T) {
	for _, online := range []bool{true, false} {
		data, err := Envelope(online)
		if err != nil {
			t.Fatalf("Envelope(%v) error: %v", online, err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if m["kind"] != "isOnline" {
			t.Errorf("expected kind isOnline, got %v", m["kind"])
		}
		if m["isOnline"] != online {
			t.Errorf("expected isOnline=%v, got %v", online, m["isOnline"])
		}
	}
}
