package events

import "time"

// TimeRange bounds a filter's timestamp match, inclusive on both ends. A
// zero value on either side means unbounded in that direction.
type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) covers(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Filter narrows which events a subscription receives. An absent (nil/zero)
// criterion is ignored; every present criterion must match.
type Filter struct {
	EventTypes      []string
	SourceServices  []string
	TenantIDs       []string
	CorrelationIDs  []string
	Tags            []string
	PriorityMin     *Priority
	TimestampRange  *TimeRange
	CustomFilters   map[string]interface{}
}

// Matches reports whether e satisfies every criterion present in f.
func (f Filter) Matches(e Event) bool {
	if len(f.EventTypes) > 0 && !contains(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.SourceServices) > 0 && !contains(f.SourceServices, e.Metadata.SourceService) {
		return false
	}
	if len(f.TenantIDs) > 0 && !contains(f.TenantIDs, e.Metadata.TenantID) {
		return false
	}
	if len(f.CorrelationIDs) > 0 && !contains(f.CorrelationIDs, e.Metadata.CorrelationID) {
		return false
	}
	if len(f.Tags) > 0 && !e.HasTag(f.Tags) {
		return false
	}
	if f.PriorityMin != nil && e.Metadata.Priority < *f.PriorityMin {
		return false
	}
	if f.TimestampRange != nil && !f.TimestampRange.covers(e.Timestamp) {
		return false
	}
	if len(f.CustomFilters) > 0 {
		payload, ok := e.Payload.(map[string]interface{})
		if !ok {
			return false
		}
		for key, want := range f.CustomFilters {
			got, present := payload[key]
			if !present || got != want {
				return false
			}
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
