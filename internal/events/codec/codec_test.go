package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/flowmesh/core/internal/events"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC()

	original := events.New("order.created", map[string]interface{}{"order_id": "o-1", "amount": float64(42)}, events.Metadata{
		CorrelationID: "corr-1",
		SourceService: "orders",
		TenantID:      "tenant-1",
		Priority:      events.PriorityHigh,
		Headers:       map[string]string{"x-trace": "abc"},
		Tags:          []string{"billing"},
		Expiry:        &expiry,
	})

	raw, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.EventID != original.EventID {
		t.Errorf("EventID mismatch: got %s want %s", decoded.EventID, original.EventID)
	}
	if decoded.EventType != original.EventType {
		t.Errorf("EventType mismatch: got %s want %s", decoded.EventType, original.EventType)
	}
	if decoded.Metadata.CorrelationID != original.Metadata.CorrelationID {
		t.Errorf("CorrelationID mismatch")
	}
	if decoded.Metadata.Priority != original.Metadata.Priority {
		t.Errorf("Priority mismatch: got %v want %v", decoded.Metadata.Priority, original.Metadata.Priority)
	}
	if decoded.Metadata.Expiry == nil || !decoded.Metadata.Expiry.Equal(*original.Metadata.Expiry) {
		t.Errorf("Expiry mismatch")
	}
	if decoded.Metadata.Headers["x-trace"] != "abc" {
		t.Errorf("expected headers to round trip")
	}
	if decoded.Metadata.Version != 1 {
		t.Errorf("expected version to default to 1, got %d", decoded.Metadata.Version)
	}
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"event_type": "order.created",
		"data": {"order_id": "o-1"},
		"metadata": {
			"event_id": "e-1",
			"event_type": "order.created",
			"timestamp": "2026-01-01T00:00:00Z",
			"correlation_id": "corr-1",
			"source_service": "orders",
			"priority": 1,
			"version": 2,
			"future_field": "keep-me"
		},
		"future_top_level": 123
	}`)

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(reencoded, &doc); err != nil {
		t.Fatalf("failed to parse re-encoded event: %v", err)
	}
	if _, ok := doc["future_top_level"]; !ok {
		t.Error("expected unknown top-level field to survive round trip")
	}

	var meta map[string]json.RawMessage
	if err := json.Unmarshal(doc["metadata"], &meta); err != nil {
		t.Fatalf("failed to parse re-encoded metadata: %v", err)
	}
	if _, ok := meta["future_field"]; !ok {
		t.Error("expected unknown metadata field to survive round trip")
	}
}

func TestDecodeRejectsInvalidTimestamp(t *testing.T) {
	raw := []byte(`{"event_type":"x","data":{},"metadata":{"event_id":"e-1","event_type":"x","timestamp":"not-a-time","source_service":"s"}}`)
	if _, err := Decode(raw); err == nil {
		t.Error("expected an error for an invalid timestamp")
	}
}
