package kafka

import (
	"bytes"
	"encoding/json"
	"testing"
)

// TestNewMessageWritesValueVerbatim guards against re-introducing the bug
// where PublishEvent ran the already wire-encoded payload through
// json.Marshal before writing it: marshaling a []byte quotes and
// base64-encodes it, so the message body stops being the raw event
// envelope every consumer's codec.Decode expects.
func TestNewMessageWritesValueVerbatim(t *testing.T) {
	payload := []byte(`{"event_id":"e-1","event_type":"order.created"}`)

	msg := newMessage("orders.created", "e-1", payload)

	if !bytes.Equal(msg.Value, payload) {
		t.Fatalf("expected message value to equal the input payload unchanged, got %q", msg.Value)
	}

	// A re-marshal of a []byte always produces a quoted, base64-encoded
	// string, so the first byte would be '"' instead of '{'.
	marshaled, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	if bytes.Equal(msg.Value, marshaled) {
		t.Fatal("message value looks re-marshaled (base64 JSON string), not the raw event envelope")
	}
}

func TestNewMessageTopicAndKey(t *testing.T) {
	msg := newMessage("orders.created", "e-1", []byte("{}"))

	if msg.Topic != "orders.created" {
		t.Errorf("expected topic orders.created, got %s", msg.Topic)
	}
	if string(msg.Key) != "e-1" {
		t.Errorf("expected key e-1, got %s", msg.Key)
	}
}
