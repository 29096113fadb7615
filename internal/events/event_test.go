package events

import (
	"testing"
	"time"
)

func TestNewAssignsEventIDAndTimestamp(t *testing.T) {
	e := New("order.created", map[string]interface{}{"order_id": "o-1"}, Metadata{SourceService: "orders"})

	if e.EventID == "" {
		t.Error("expected a generated event id")
	}
	if e.Timestamp.After(time.Now().UTC()) {
		t.Error("expected timestamp not to be in the future")
	}
	if e.Metadata.Headers == nil {
		t.Error("expected headers to default to an empty map")
	}
}

func TestExpired(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	tests := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{"no expiry", nil, false},
		{"expired", &past, true},
		{"not yet expired", &future, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Metadata: Metadata{Expiry: tt.expiry}}
			if got := e.Expired(time.Now()); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasTag(t *testing.T) {
	e := Event{Metadata: Metadata{Tags: []string{"billing", "retry"}}}

	if !e.HasTag(nil) {
		t.Error("expected empty filter tags to match any event")
	}
	if !e.HasTag([]string{"retry", "unrelated"}) {
		t.Error("expected overlapping tag to match")
	}
	if e.HasTag([]string{"unrelated"}) {
		t.Error("expected disjoint tags not to match")
	}
}

func TestTopicFor(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"order.created", "order_created"},
		{"Order.Payment.Captured", "order_payment_captured"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := TopicFor(tt.eventType); got != tt.want {
				t.Errorf("TopicFor(%q) = %q, want %q", tt.eventType, got, tt.want)
			}
		})
	}
}
