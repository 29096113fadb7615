package lb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStickyStore struct {
	bindings map[string]string
}

func newFakeStickyStore() *fakeStickyStore {
	return &fakeStickyStore{bindings: map[string]string{}}
}

func (f *fakeStickyStore) GetStickySession(ctx context.Context, sessionID string) (string, error) {
	return f.bindings[sessionID], nil
}

func (f *fakeStickyStore) SetStickySession(ctx context.Context, sessionID, serverID string, ttl time.Duration) error {
	f.bindings[sessionID] = serverID
	return nil
}

func TestStickyKeepsSessionOnSameServer(t *testing.T) {
	a := NewServer("a", "http://a", 1)
	b := NewServer("b", "http://b", 1)
	store := newFakeStickyStore()

	sticky := &Sticky{Inner: &RoundRobin{}, Store: store, TTL: time.Minute}

	first, ok := sticky.Select([]*Server{a, b}, "session-1")
	require.True(t, ok, "expected a selection")

	for i := 0; i < 5; i++ {
		next, _ := sticky.Select([]*Server{a, b}, "session-1")
		assert.Equal(t, first.ID, next.ID, "expected session to stay bound to the same server")
	}
}

func TestStickyFallsBackWhenBoundServerUnhealthy(t *testing.T) {
	a := NewServer("a", "http://a", 1)
	b := NewServer("b", "http://b", 1)
	store := newFakeStickyStore()
	store.bindings["session-1"] = "a"
	a.SetHealthy(false)

	sticky := &Sticky{Inner: &RoundRobin{}, Store: store, TTL: time.Minute}

	s, ok := sticky.Select([]*Server{a, b}, "session-1")
	require.True(t, ok)
	assert.Equal(t, "b", s.ID, "expected fallback to healthy server b")
}
