package lb

import "sync"

// Registry resolves a route's target service name to its Pool. Built once
// at startup from the declarative route table and handed to the pipeline as
// its pipeline.Pools implementation.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: map[string]*Pool{}}
}

func (r *Registry) Add(targetService string, pool *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[targetService] = pool
}

func (r *Registry) Pool(targetService string) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[targetService]
	return p, ok
}
