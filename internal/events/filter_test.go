package events

import "testing"

func TestFilterMatches(t *testing.T) {
	high := PriorityHigh

	e := Event{
		EventType: "order.created",
		Payload:   map[string]interface{}{"region": "eu"},
		Metadata: Metadata{
			SourceService: "orders",
			TenantID:      "tenant-1",
			Tags:          []string{"billing"},
			Priority:      PriorityHigh,
		},
	}

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty filter matches everything", Filter{}, true},
		{"matching event type", Filter{EventTypes: []string{"order.created"}}, true},
		{"non-matching event type", Filter{EventTypes: []string{"order.cancelled"}}, false},
		{"matching tenant", Filter{TenantIDs: []string{"tenant-1", "tenant-2"}}, true},
		{"non-matching tenant", Filter{TenantIDs: []string{"tenant-9"}}, false},
		{"priority floor satisfied", Filter{PriorityMin: &high}, true},
		{"custom filter satisfied", Filter{CustomFilters: map[string]interface{}{"region": "eu"}}, true},
		{"custom filter unsatisfied", Filter{CustomFilters: map[string]interface{}{"region": "us"}}, false},
		{"tag intersects", Filter{Tags: []string{"billing", "other"}}, true},
		{"tag disjoint", Filter{Tags: []string{"other"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(e); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
