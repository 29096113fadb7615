package lb

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the per-server circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before tripping to OPEN
	OpenTimeout      time.Duration // how long OPEN holds before HALF_OPEN probes
	HalfOpenMaxCalls uint32        // probes allowed while HALF_OPEN
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// BreakerPool owns one gobreaker.CircuitBreaker per server, so a failing
// upstream is removed from rotation without needing the health checker to
// catch up first.
type BreakerPool struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      BreakerConfig
}

func NewBreakerPool(cfg BreakerConfig) *BreakerPool {
	return &BreakerPool{breakers: map[string]*gobreaker.CircuitBreaker{}, cfg: cfg.withDefaults()}
}

func (p *BreakerPool) breakerFor(serverID string) *gobreaker.CircuitBreaker {
	p.mu.RLock()
	b, ok := p.breakers[serverID]
	p.mu.RUnlock()
	if ok {
		return b
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[serverID]; ok {
		return b
	}

	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        serverID,
		Timeout:     p.cfg.OpenTimeout,
		MaxRequests: p.cfg.HalfOpenMaxCalls,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.cfg.FailureThreshold
		},
	})
	p.breakers[serverID] = b
	return b
}

// Allow reports whether a request to serverID may proceed: true when the
// breaker is CLOSED or HALF_OPEN; it does not check how many HALF_OPEN
// probes are already in flight. Pre-filters
// server selection; it does not itself count toward the breaker's stats.
func (p *BreakerPool) Allow(serverID string) bool {
	return p.breakerFor(serverID).State() != gobreaker.StateOpen
}

// Record reports the outcome of a call that Allow permitted. This is the
// only thing that advances the breaker's internal counts.
func (p *BreakerPool) Record(serverID string, success bool) {
	b := p.breakerFor(serverID)
	b.Execute(func() (interface{}, error) {
		if success {
			return nil, nil
		}
		return nil, errCallFailed
	})
}

func (p *BreakerPool) State(serverID string) gobreaker.State {
	return p.breakerFor(serverID).State()
}

var errCallFailed = breakerError("upstream call failed")

type breakerError string

func (e breakerError) Error() string { return string(e) }
