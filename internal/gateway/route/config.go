package route

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlRoute mirrors Route plus the auth/rate-limit settings the pipeline
// layer attaches to a named route, since the declarative route table is the
// one place an operator configures both at once.
type yamlRoute struct {
	Name            string            `yaml:"name"`
	Priority        int               `yaml:"priority"`
	Kind            string            `yaml:"kind"`
	Pattern         string            `yaml:"pattern"`
	Methods         []string          `yaml:"methods"`
	HostPattern     string            `yaml:"host_pattern"`
	RequiredHeaders map[string]string `yaml:"required_headers"`
	RequiredQuery   map[string]string `yaml:"required_query"`

	TargetService string `yaml:"target_service"`

	PathRewrite            string `yaml:"path_rewrite"`
	Timeout                string `yaml:"timeout"`
	Retries                int    `yaml:"retries"`
	LoadBalancingAlgorithm string `yaml:"load_balancing_algorithm"`
	CircuitBreakerEnabled  bool   `yaml:"circuit_breaker_enabled"`

	AuthScheme string        `yaml:"auth_scheme"`
	RateLimit  *yamlRateSpec `yaml:"rate_limit"`
}

type yamlRateSpec struct {
	Algorithm         string  `yaml:"algorithm"`
	RequestsPerWindow int     `yaml:"requests_per_window"`
	WindowSize        string  `yaml:"window_size"`
	BurstSize         int     `yaml:"burst_size"`
	Action            string  `yaml:"action"`
	ThrottleFactor    float64 `yaml:"throttle_factor"`
}

type yamlServer struct {
	ID     string `yaml:"id"`
	URL    string `yaml:"url"`
	Weight int    `yaml:"weight"`
}

type yamlPool struct {
	TargetService    string       `yaml:"target_service"`
	Servers          []yamlServer `yaml:"servers"`
	FailureThreshold int          `yaml:"failure_threshold"`
	OpenTimeout      string       `yaml:"open_timeout"`
	HalfOpenMaxCalls int          `yaml:"half_open_max_calls"`
	StickySessions   bool         `yaml:"sticky_sessions"`
	StickyTTL        string       `yaml:"sticky_ttl"`
}

type yamlTable struct {
	Routes []yamlRoute `yaml:"routes"`
	Pools  []yamlPool  `yaml:"pools"`
}

// Table is a parsed declarative route table: resolved Routes plus the raw
// pool/auth configuration the gateway's main package wires into
// lb.Pool and pipeline.RouteAuth.
type Table struct {
	Routes []Route
	Pools  []PoolSpec
	Auth   map[string]RouteAuthSpec // keyed by route name
}

// PoolSpec is one target service's declared upstream servers and breaker
// tuning, independent of the lb package so this file doesn't import it.
type PoolSpec struct {
	TargetService    string
	Servers          []ServerSpec
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
	StickySessions   bool
	StickyTTL        time.Duration
}

type ServerSpec struct {
	ID     string
	URL    string
	Weight int
}

// RouteAuthSpec is a route's declared authentication scheme and rate limit
// algorithm, resolved from YAML strings into the shapes ratelimit.Config
// and pipeline.AuthScheme expect (as plain strings, to avoid an import
// cycle; the gateway main package converts them).
type RouteAuthSpec struct {
	AuthScheme        string
	RateLimitAlgorithm string
	RequestsPerWindow int
	WindowSize        time.Duration
	BurstSize         int
	RateLimitAction   string
	ThrottleFactor    float64
}

func parseRouteDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

var matchKindByName = map[string]MatchKind{
	"exact":    MatchExact,
	"prefix":   MatchPrefix,
	"regex":    MatchRegex,
	"wildcard": MatchWildcard,
	"template": MatchTemplate,
}

// LoadTable parses a declarative route table from a YAML file.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("route: failed to read %s: %w", path, err)
	}

	var yt yamlTable
	if err := yaml.Unmarshal(raw, &yt); err != nil {
		return Table{}, fmt.Errorf("route: failed to parse %s: %w", path, err)
	}

	table := Table{Auth: map[string]RouteAuthSpec{}}

	for _, yr := range yt.Routes {
		kind, ok := matchKindByName[yr.Kind]
		if !ok {
			return Table{}, fmt.Errorf("route: unknown match kind %q for route %q", yr.Kind, yr.Name)
		}

		table.Routes = append(table.Routes, Route{
			Name:                   yr.Name,
			Priority:               yr.Priority,
			Kind:                   kind,
			Pattern:                yr.Pattern,
			Methods:                yr.Methods,
			HostPattern:            yr.HostPattern,
			RequiredHeaders:        yr.RequiredHeaders,
			RequiredQuery:          yr.RequiredQuery,
			TargetService:          yr.TargetService,
			PathRewrite:            yr.PathRewrite,
			Timeout:                parseRouteDuration(yr.Timeout),
			Retries:                yr.Retries,
			LoadBalancingAlgorithm: yr.LoadBalancingAlgorithm,
			CircuitBreakerEnabled:  yr.CircuitBreakerEnabled,
		})

		spec := RouteAuthSpec{AuthScheme: yr.AuthScheme}
		if yr.RateLimit != nil {
			spec.RateLimitAlgorithm = yr.RateLimit.Algorithm
			spec.RequestsPerWindow = yr.RateLimit.RequestsPerWindow
			spec.WindowSize = parseRouteDuration(yr.RateLimit.WindowSize)
			spec.BurstSize = yr.RateLimit.BurstSize
			spec.RateLimitAction = yr.RateLimit.Action
			spec.ThrottleFactor = yr.RateLimit.ThrottleFactor
		}
		table.Auth[yr.Name] = spec
	}

	for _, yp := range yt.Pools {
		ps := PoolSpec{
			TargetService:    yp.TargetService,
			FailureThreshold: uint32(yp.FailureThreshold),
			OpenTimeout:      parseRouteDuration(yp.OpenTimeout),
			HalfOpenMaxCalls: uint32(yp.HalfOpenMaxCalls),
			StickySessions:   yp.StickySessions,
			StickyTTL:        parseRouteDuration(yp.StickyTTL),
		}
		for _, ys := range yp.Servers {
			ps.Servers = append(ps.Servers, ServerSpec{ID: ys.ID, URL: ys.URL, Weight: ys.Weight})
		}
		table.Pools = append(table.Pools, ps)
	}

	return table, nil
}
