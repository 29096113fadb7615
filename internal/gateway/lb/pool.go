package lb

import (
	"errors"
	"sync"
)

// ErrNoHealthyServers is returned when every server is unhealthy or its
// circuit breaker is open.
var ErrNoHealthyServers = errors.New("lb: no healthy servers available")

// Pool is the set of upstream servers for one target service, plus the
// algorithm used to pick among them and the breaker tracking each server's
// recent failures.
type Pool struct {
	mu        sync.RWMutex
	servers   []*Server
	algorithm Algorithm
	breakers  *BreakerPool
}

func NewPool(algorithm Algorithm, breakerCfg BreakerConfig, servers ...*Server) *Pool {
	return &Pool{
		servers:   servers,
		algorithm: algorithm,
		breakers:  NewBreakerPool(breakerCfg),
	}
}

func (p *Pool) Servers() []*Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Server, len(p.servers))
	copy(out, p.servers)
	return out
}

func (p *Pool) AddServer(s *Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.servers = append(p.servers, s)
}

func (p *Pool) RemoveServer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.servers {
		if s.ID == id {
			p.servers = append(p.servers[:i], p.servers[i+1:]...)
			return
		}
	}
}

// Pick selects a server eligible for a new request: healthy per the health
// checker AND not circuit-broken open.
func (p *Pool) Pick(key string) (*Server, error) {
	all := p.Servers()

	eligible := make([]*Server, 0, len(all))
	for _, s := range all {
		if s.Healthy() && p.breakers.Allow(s.ID) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoHealthyServers
	}

	chosen, ok := p.algorithm.Select(eligible, key)
	if !ok {
		return nil, ErrNoHealthyServers
	}
	return chosen, nil
}

// Report feeds the outcome of a forwarded request back into the breaker.
func (p *Pool) Report(serverID string, success bool) {
	p.breakers.Record(serverID, success)
}

func (p *Pool) BreakerState(serverID string) string {
	return p.breakers.State(serverID).String()
}
