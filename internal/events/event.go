// Package events defines the wire representation of a domain event and the
// metadata the bus and outbox route on: correlation, tenancy, priority, and
// expiry.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders delivery and outbox pickup (higher first).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// ParsePriority maps a wire string back to a Priority, defaulting to Normal
// for unknown or empty input.
func ParsePriority(s string) Priority {
	switch s {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Metadata travels alongside a payload and is what filters and the outbox
// match against.
type Metadata struct {
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	SourceService string            `json:"source_service"`
	TraceID       string            `json:"trace_id,omitempty"`
	SpanID        string            `json:"span_id,omitempty"`
	Version       int               `json:"version,omitempty"`
	Priority      Priority          `json:"-"`
	Headers       map[string]string `json:"headers,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Expiry        *time.Time        `json:"expiry,omitempty"`

	// extra holds metadata keys the codec didn't recognize, so an unfamiliar
	// producer's fields survive a decode/encode round trip.
	extra map[string]json.RawMessage
}

// Extra returns passthrough metadata fields preserved across decode/encode.
func (m Metadata) Extra() map[string]json.RawMessage { return m.extra }

// SetExtra attaches passthrough metadata fields; used by the codec only.
func (m *Metadata) SetExtra(extra map[string]json.RawMessage) { m.extra = extra }

// Event is the in-process representation of a published/consumed message.
// EventType maps to a Kafka topic via TopicFor.
type Event struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
	Metadata  Metadata    `json:"metadata"`

	// extra holds top-level wire keys the codec didn't recognize.
	extra map[string]json.RawMessage
}

// Extra returns passthrough top-level fields preserved across decode/encode.
func (e Event) Extra() map[string]json.RawMessage { return e.extra }

// SetExtra attaches passthrough top-level fields; used by the codec only.
func (e *Event) SetExtra(extra map[string]json.RawMessage) { e.extra = extra }

// New constructs an Event with a fresh event_id and the current UTC time.
func New(eventType string, payload interface{}, meta Metadata) Event {
	if meta.Headers == nil {
		meta.Headers = map[string]string{}
	}
	if meta.Version == 0 {
		meta.Version = 1
	}
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  meta,
	}
}

// Expired reports whether the event's metadata.expiry has passed. Expired
// events must not be delivered and must be marked failed by the outbox.
func (e Event) Expired(now time.Time) bool {
	return e.Metadata.Expiry != nil && e.Metadata.Expiry.Before(now)
}

// HasTag reports whether any of tags intersects the event's own tags.
func (e Event) HasTag(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(e.Metadata.Tags))
	for _, t := range e.Metadata.Tags {
		set[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}
