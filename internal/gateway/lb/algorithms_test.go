package lb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobinCyclesEvenly(t *testing.T) {
	servers := []*Server{NewServer("a", "http://a", 1), NewServer("b", "http://b", 1)}
	rr := &RoundRobin{}

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		s, ok := rr.Select(servers, "")
		require.True(t, ok, "expected a selection")
		counts[s.ID]++
	}
	assert.Equal(t, 5, counts["a"])
	assert.Equal(t, 5, counts["b"])
}

func TestRoundRobinSkipsUnhealthy(t *testing.T) {
	a := NewServer("a", "http://a", 1)
	b := NewServer("b", "http://b", 1)
	b.SetHealthy(false)
	rr := &RoundRobin{}

	for i := 0; i < 5; i++ {
		s, ok := rr.Select([]*Server{a, b}, "")
		require.True(t, ok)
		assert.Equal(t, "a", s.ID, "expected only the healthy server to be picked")
	}
}

func TestWeightedRoundRobinFavorsHigherWeight(t *testing.T) {
	heavy := NewServer("heavy", "http://heavy", 3)
	light := NewServer("light", "http://light", 1)
	wrr := &WeightedRoundRobin{}

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		s, _ := wrr.Select([]*Server{heavy, light}, "")
		counts[s.ID]++
	}
	assert.Equal(t, 6, counts["heavy"], "expected a 3:1 split over 8 picks")
	assert.Equal(t, 2, counts["light"])
}

func TestLeastConnectionsPicksFewestActive(t *testing.T) {
	busy := NewServer("busy", "http://busy", 1)
	idle := NewServer("idle", "http://idle", 1)
	busy.IncActiveConns()
	busy.IncActiveConns()

	lc := LeastConnections{}
	s, ok := lc.Select([]*Server{busy, idle}, "")
	require.True(t, ok)
	assert.Equal(t, "idle", s.ID)
}

func TestIPHashIsStableForSameKey(t *testing.T) {
	servers := []*Server{NewServer("a", "http://a", 1), NewServer("b", "http://b", 1), NewServer("c", "http://c", 1)}
	h := IPHash{}

	s1, _ := h.Select(servers, "203.0.113.5")
	s2, _ := h.Select(servers, "203.0.113.5")
	assert.Equal(t, s1.ID, s2.ID, "expected the same client IP to always resolve to the same server")
}

func TestConsistentHashIsStableAndDistributes(t *testing.T) {
	servers := []*Server{NewServer("a", "http://a", 1), NewServer("b", "http://b", 1), NewServer("c", "http://c", 1)}
	ch := ConsistentHash{}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		key := string(rune('a' + i%26))
		s1, _ := ch.Select(servers, key)
		s2, _ := ch.Select(servers, key)
		require.Equal(t, s1.ID, s2.ID, "expected stable routing for key %q", key)
		seen[s1.ID] = true
	}
	assert.GreaterOrEqual(t, len(seen), 2, "expected keys to distribute across multiple servers")
}

func TestPoolPickSkipsOpenBreaker(t *testing.T) {
	a := NewServer("a", "http://a", 1)
	b := NewServer("b", "http://b", 1)
	pool := NewPool(&RoundRobin{}, BreakerConfig{FailureThreshold: 2}, a, b)

	pool.Report("a", false)
	pool.Report("a", false)

	for i := 0; i < 5; i++ {
		s, err := pool.Pick("")
		require.NoError(t, err)
		assert.Equal(t, "b", s.ID, "expected breaker-open server 'a' to be skipped")
	}
}

func TestPoolPickReturnsErrWhenAllUnhealthy(t *testing.T) {
	a := NewServer("a", "http://a", 1)
	a.SetHealthy(false)
	pool := NewPool(&RoundRobin{}, BreakerConfig{}, a)

	_, err := pool.Pick("")
	assert.ErrorIs(t, err, ErrNoHealthyServers)
}
