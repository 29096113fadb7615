// Package codec implements the wire encoding for events: a JSON object with
// event_type, data, and a nested metadata object, matching the format the
// Python/Node producers elsewhere in the platform already speak.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowmesh/core/internal/events"
)

// wireMetadata is the on-the-wire shape of events.Metadata: event_id,
// event_type, and timestamp travel nested here (event_type is also
// duplicated at the top level of wireEvent), priority as its numeric value,
// timestamp/expiry as ISO-8601 strings, version as an int defaulting to 1,
// with an Extra bag for unknown keys round-tripped verbatim.
type wireMetadata struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Timestamp     string            `json:"timestamp"`
	CorrelationID string            `json:"correlation_id"`
	CausationID   string            `json:"causation_id,omitempty"`
	UserID        string            `json:"user_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	SourceService string            `json:"source_service"`
	TraceID       string            `json:"trace_id,omitempty"`
	SpanID        string            `json:"span_id,omitempty"`
	Version       int               `json:"version,omitempty"`
	Priority      int               `json:"priority"`
	Headers       map[string]string `json:"headers,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	Expiry        *string           `json:"expiry,omitempty"`
}

// wireEvent is the top-level envelope: event_type and data alongside the
// nested metadata object that carries event_id/event_type/timestamp.
type wireEvent struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Metadata  wireMetadata    `json:"metadata"`
}

// knownTopLevel and knownMetaKeys let Encode/Decode carry forward fields
// neither side recognizes, per spec.md's passthrough-bag requirement.
var knownTopLevel = map[string]struct{}{
	"event_type": {}, "data": {}, "metadata": {},
}

var knownMetaKeys = map[string]struct{}{
	"event_id": {}, "event_type": {}, "timestamp": {},
	"correlation_id": {}, "causation_id": {}, "user_id": {}, "tenant_id": {},
	"source_service": {}, "trace_id": {}, "span_id": {}, "version": {},
	"priority": {}, "headers": {}, "tags": {}, "expiry": {},
}

// Encode serializes an Event to its wire JSON representation.
func Encode(e events.Event) ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to marshal payload: %w", err)
	}

	var expiry *string
	if e.Metadata.Expiry != nil {
		s := e.Metadata.Expiry.UTC().Format(time.RFC3339Nano)
		expiry = &s
	}

	version := e.Metadata.Version
	if version == 0 {
		version = 1
	}

	w := wireEvent{
		EventType: e.EventType,
		Data:      data,
		Metadata: wireMetadata{
			EventID:       e.EventID,
			EventType:     e.EventType,
			Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
			CorrelationID: e.Metadata.CorrelationID,
			CausationID:   e.Metadata.CausationID,
			UserID:        e.Metadata.UserID,
			TenantID:      e.Metadata.TenantID,
			SourceService: e.Metadata.SourceService,
			TraceID:       e.Metadata.TraceID,
			SpanID:        e.Metadata.SpanID,
			Version:       version,
			Priority:      int(e.Metadata.Priority),
			Headers:       e.Metadata.Headers,
			Tags:          e.Metadata.Tags,
			Expiry:        expiry,
		},
	}

	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("codec: failed to marshal event: %w", err)
	}

	return mergeExtra(out, e.Extra(), e.Metadata.Extra())
}

// Decode parses the wire format back into an Event. Unknown top-level and
// metadata keys are preserved on Event.Metadata.PassthroughRaw /
// Event.PassthroughRaw so a round trip through an unfamiliar producer
// doesn't silently drop data.
func Decode(raw []byte) (events.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return events.Event{}, fmt.Errorf("codec: failed to unmarshal event: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, w.Metadata.Timestamp)
	if err != nil {
		return events.Event{}, fmt.Errorf("codec: invalid timestamp %q: %w", w.Metadata.Timestamp, err)
	}

	var payload interface{}
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &payload); err != nil {
			return events.Event{}, fmt.Errorf("codec: failed to unmarshal payload: %w", err)
		}
	}

	var expiry *time.Time
	if w.Metadata.Expiry != nil {
		t, err := time.Parse(time.RFC3339Nano, *w.Metadata.Expiry)
		if err != nil {
			return events.Event{}, fmt.Errorf("codec: invalid expiry %q: %w", *w.Metadata.Expiry, err)
		}
		expiry = &t
	}

	headers := w.Metadata.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	eventType := w.EventType
	if eventType == "" {
		eventType = w.Metadata.EventType
	}

	e := events.Event{
		EventID:   w.Metadata.EventID,
		EventType: eventType,
		Timestamp: ts,
		Payload:   payload,
		Metadata: events.Metadata{
			CorrelationID: w.Metadata.CorrelationID,
			CausationID:   w.Metadata.CausationID,
			UserID:        w.Metadata.UserID,
			TenantID:      w.Metadata.TenantID,
			SourceService: w.Metadata.SourceService,
			TraceID:       w.Metadata.TraceID,
			SpanID:        w.Metadata.SpanID,
			Version:       w.Metadata.Version,
			Priority:      events.Priority(w.Metadata.Priority),
			Headers:       headers,
			Tags:          w.Metadata.Tags,
			Expiry:        expiry,
		},
	}

	extraTop, extraMeta := extractExtras(raw)
	e.SetExtra(extraTop)
	e.Metadata.SetExtra(extraMeta)

	return e, nil
}

func extractExtras(raw []byte) (map[string]json.RawMessage, map[string]json.RawMessage) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, nil
	}

	extraTop := map[string]json.RawMessage{}
	for k, v := range top {
		if _, known := knownTopLevel[k]; !known {
			extraTop[k] = v
		}
	}

	extraMeta := map[string]json.RawMessage{}
	if metaRaw, ok := top["metadata"]; ok {
		var meta map[string]json.RawMessage
		if err := json.Unmarshal(metaRaw, &meta); err == nil {
			for k, v := range meta {
				if _, known := knownMetaKeys[k]; !known {
					extraMeta[k] = v
				}
			}
		}
	}

	return extraTop, extraMeta
}

func mergeExtra(base []byte, extraTop, extraMeta map[string]json.RawMessage) ([]byte, error) {
	if len(extraTop) == 0 && len(extraMeta) == 0 {
		return base, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, fmt.Errorf("codec: failed to merge passthrough fields: %w", err)
	}
	for k, v := range extraTop {
		doc[k] = v
	}

	if len(extraMeta) > 0 {
		var meta map[string]json.RawMessage
		if err := json.Unmarshal(doc["metadata"], &meta); err != nil {
			return nil, fmt.Errorf("codec: failed to merge metadata passthrough fields: %w", err)
		}
		for k, v := range extraMeta {
			meta[k] = v
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		doc["metadata"] = metaBytes
	}

	return json.Marshal(doc)
}
