package route

import (
	"strings"
	"sync"
)

// cacheResult is what Cache stores per key: the resolved route plus its
// extracted params, or a recorded miss.
type cacheResult struct {
	route  Route
	params map[string]string
	hit    bool
}

// Cache memoizes route resolution by (method, path, host, relevant header
// values). Call Invalidate whenever a route is added or removed so stale
// resolutions can't survive a route table change.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]cacheResult
	headerNames []string // header names any route's RequiredHeaders reference
}

func NewCache() *Cache {
	return &Cache{entries: map[string]cacheResult{}}
}

// SetRelevantHeaders declares which header values participate in the cache
// key, typically every header name referenced by any route's
// RequiredHeaders.
func (c *Cache) SetRelevantHeaders(names []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headerNames = names
}

func (c *Cache) key(req MatchedRequest) string {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte('|')
	b.WriteString(req.Path)
	b.WriteByte('|')
	b.WriteString(req.Host)
	for _, name := range c.headerNames {
		b.WriteByte('|')
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(req.Headers[name])
	}
	return b.String()
}

func (c *Cache) Get(req MatchedRequest) (Route, map[string]string, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[c.key(req)]
	return r.route, r.params, r.hit, ok
}

func (c *Cache) Put(req MatchedRequest, r Route, params map[string]string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(req)] = cacheResult{route: r, params: params, hit: hit}
}

// Invalidate drops every cached resolution. Called whenever the route table
// changes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]cacheResult{}
}
