package pipeline

import (
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Effect is what a matching Rule does.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Combinator decides how multiple matching rules resolve a conflict.
type Combinator string

const (
	CombinatorFirstApplicable Combinator = "first-applicable"
	CombinatorPermitOverrides Combinator = "permit-overrides"
	CombinatorDenyOverrides   Combinator = "deny-overrides"
)

// Condition is a custom predicate evaluated against the request and
// principal, for rules whose match criteria go beyond method/resource/role.
type Condition func(r *http.Request, p Principal) bool

// Rule is one RBAC entry.
type Rule struct {
	Name        string
	Effect      Effect
	Priority    int
	Actions     []string // HTTP methods, "*" for any
	Resources   []string // path patterns: exact, "prefix/*", or "*"
	Roles       []string // any-of; empty means no role requirement
	Permissions []string // any-of, hierarchical wildcard via ":"
	Conditions  []Condition
}

func (r Rule) matchesAction(method string) bool {
	for _, a := range r.Actions {
		if a == "*" || strings.EqualFold(a, method) {
			return true
		}
	}
	return len(r.Actions) == 0
}

func (r Rule) matchesResource(path string) bool {
	if len(r.Resources) == 0 {
		return true
	}
	for _, res := range r.Resources {
		if res == "*" || res == path {
			return true
		}
		if strings.HasSuffix(res, "/*") {
			prefix := strings.TrimSuffix(res, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}

func (r Rule) matchesRole(roles []string) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, want := range r.Roles {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// permissionGranted supports "foo:*" granting "foo:anything" and exact
// equality otherwise.
func permissionGranted(held, required string) bool {
	if held == required {
		return true
	}
	if strings.HasSuffix(held, ":*") {
		prefix := strings.TrimSuffix(held, "*")
		return strings.HasPrefix(required, prefix)
	}
	return held == "*"
}

func (r Rule) matchesPermission(held []string) bool {
	if len(r.Permissions) == 0 {
		return true
	}
	for _, required := range r.Permissions {
		for _, h := range held {
			if permissionGranted(h, required) {
				return true
			}
		}
	}
	return false
}

func (r Rule) matchesConditions(req *http.Request, p Principal) bool {
	for _, c := range r.Conditions {
		if !c(req, p) {
			return false
		}
	}
	return true
}

func (r Rule) matches(req *http.Request, p Principal) bool {
	return r.matchesAction(req.Method) &&
		r.matchesResource(req.URL.Path) &&
		r.matchesRole(p.Roles) &&
		r.matchesPermission(p.Permissions) &&
		r.matchesConditions(req, p)
}

// Authorizer evaluates Rules against a request and principal.
type Authorizer struct {
	Rules      []Rule
	Combinator Combinator
	SuperAdmin []string // roles that bypass every rule
}

func NewAuthorizer(rules []Rule, combinator Combinator, superAdminRoles []string) *Authorizer {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	if combinator == "" {
		combinator = CombinatorDenyOverrides
	}

	return &Authorizer{Rules: sorted, Combinator: combinator, SuperAdmin: superAdminRoles}
}

func (a *Authorizer) isSuperAdmin(roles []string) bool {
	for _, want := range a.SuperAdmin {
		for _, have := range roles {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Authorize reports whether the principal may perform the request, per the
// configured combinator.
func (a *Authorizer) Authorize(r *http.Request, p Principal) bool {
	if a.isSuperAdmin(p.Roles) {
		return true
	}

	switch a.Combinator {
	case CombinatorFirstApplicable:
		for _, rule := range a.Rules {
			if rule.matches(r, p) {
				return rule.Effect == EffectAllow
			}
		}
		return false

	case CombinatorPermitOverrides:
		for _, rule := range a.Rules {
			if rule.matches(r, p) && rule.Effect == EffectAllow {
				return true
			}
		}
		return false

	default: // deny-overrides
		matched := false
		for _, rule := range a.Rules {
			if rule.matches(r, p) {
				matched = true
				if rule.Effect == EffectDeny {
					return false
				}
			}
		}
		return matched
	}
}

// IPAllowListCondition is a reusable Condition factory for rules that
// restrict by caller IP.
func IPAllowListCondition(cidrs []string) Condition {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if _, n, err := net.ParseCIDR(c); err == nil {
			nets = append(nets, n)
		}
	}
	return func(r *http.Request, p Principal) bool {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		for _, n := range nets {
			if n.Contains(ip) {
				return true
			}
		}
		return false
	}
}

// TimeRangeCondition restricts a rule to a daily wall-clock window.
func TimeRangeCondition(start, end time.Duration) Condition {
	return func(r *http.Request, p Principal) bool {
		now := time.Now()
		sinceMidnight := time.Duration(now.Hour())*time.Hour + time.Duration(now.Minute())*time.Minute
		return sinceMidnight >= start && sinceMidnight <= end
	}
}

// HeaderMatchCondition requires an exact header value.
func HeaderMatchCondition(name, value string) Condition {
	return func(r *http.Request, p Principal) bool {
		return r.Header.Get(name) == value
	}
}
