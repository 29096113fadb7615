package route

import (
	"crypto/rand"
	"math/big"
	"sort"
)

// entry pairs a route with its compiled matcher.
type entry struct {
	route   Route
	matcher Matcher
}

// PathRouter holds an ordered list of routes and finds the first (highest
// priority) match, breaking ties by insertion order.
type PathRouter struct {
	compiler *Compiler
	opts     NormalizeOptions
	entries  []entry
}

func NewPathRouter(compiler *Compiler, opts NormalizeOptions) *PathRouter {
	return &PathRouter{compiler: compiler, opts: opts}
}

// AddRoute compiles and registers a route, keeping entries sorted by
// priority descending (stable, so insertion order breaks ties).
func (p *PathRouter) AddRoute(r Route) error {
	m, err := p.compiler.Compile(r)
	if err != nil {
		return err
	}
	p.entries = append(p.entries, entry{route: r, matcher: m})
	sort.SliceStable(p.entries, func(i, j int) bool {
		return p.entries[i].route.Priority > p.entries[j].route.Priority
	})
	return nil
}

// Routes returns every registered route in priority order, for the admin
// surface's read-only route listing.
func (p *PathRouter) Routes() []Route {
	out := make([]Route, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.route
	}
	return out
}

// RemoveRoute drops every route with the given name.
func (p *PathRouter) RemoveRoute(name string) {
	filtered := p.entries[:0]
	for _, e := range p.entries {
		if e.route.Name != name {
			filtered = append(filtered, e)
		}
	}
	p.entries = filtered
}

// Find returns the first matching route (priority order) along with any
// extracted path parameters, or ok=false if nothing matches.
func (p *PathRouter) Find(req MatchedRequest) (Route, map[string]string, bool) {
	path := Normalize(req.Path, p.opts)

	for _, e := range p.entries {
		if !e.route.acceptsMethod(req.Method) {
			continue
		}
		if e.route.HostPattern != "" && e.route.HostPattern != req.Host {
			continue
		}
		if !e.matcher.Matches(path) {
			continue
		}
		if !headersSatisfied(e.route.RequiredHeaders, req.Headers) {
			continue
		}
		if !querySatisfied(e.route.RequiredQuery, req.Query) {
			continue
		}
		return e.route, e.matcher.ExtractParams(path), true
	}

	return Route{}, nil, false
}

func headersSatisfied(required, actual map[string]string) bool {
	for k, v := range required {
		if actual[k] != v {
			return false
		}
	}
	return true
}

func querySatisfied(required, actual map[string]string) bool {
	for k, v := range required {
		if actual[k] != v {
			return false
		}
	}
	return true
}

// SubRouter is one stage of a CompositeRouter: primary path routing,
// host-based routing, header-based routing, and so on.
type SubRouter interface {
	Find(req MatchedRequest) (Route, map[string]string, bool)
}

// CompositeRouter evaluates a sequence of sub-routers and returns the first
// hit, or a configured fallback route.
type CompositeRouter struct {
	stages   []SubRouter
	fallback *Route
}

func NewCompositeRouter(fallback *Route, stages ...SubRouter) *CompositeRouter {
	return &CompositeRouter{stages: stages, fallback: fallback}
}

func (c *CompositeRouter) Find(req MatchedRequest) (Route, map[string]string, bool) {
	for _, s := range c.stages {
		if r, params, ok := s.Find(req); ok {
			return r, params, true
		}
	}
	if c.fallback != nil {
		return *c.fallback, map[string]string{}, true
	}
	return Route{}, nil, false
}

// WeightedRoute is one candidate in a WeightedRouter's distribution.
type WeightedRoute struct {
	Route  Route
	Weight int
	Group  string
}

// WeightedRouter picks among variants of a route by canary header, A/B
// group header, or weighted random selection, in that precedence order.
type WeightedRouter struct {
	Variants []WeightedRoute
}

func (w *WeightedRouter) Find(req MatchedRequest) (Route, map[string]string, bool) {
	if len(w.Variants) == 0 {
		return Route{}, nil, false
	}

	if req.Headers["X-Canary"] == "true" {
		return w.Variants[0].Route, map[string]string{}, true
	}

	if group := req.Headers["X-AB-Group"]; group != "" {
		idx := groupHash(group) % len(w.Variants)
		return w.Variants[idx].Route, map[string]string{}, true
	}

	return w.weightedRandom(), map[string]string{}, true
}

func groupHash(s string) int {
	h := 0
	for _, c := range s {
		h = h*31 + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}

func (w *WeightedRouter) weightedRandom() Route {
	total := 0
	for _, v := range w.Variants {
		total += v.Weight
	}
	if total <= 0 {
		return w.Variants[0].Route
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(total)))
	pick := int64(0)
	if err == nil {
		pick = n.Int64()
	}

	for _, v := range w.Variants {
		pick -= int64(v.Weight)
		if pick < 0 {
			return v.Route
		}
	}
	return w.Variants[len(w.Variants)-1].Route
}
