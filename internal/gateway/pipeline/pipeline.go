package pipeline

import (
	"net/http"
	"strconv"

	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/common/middleware"
	"github.com/flowmesh/core/internal/gateway/lb"
	"github.com/flowmesh/core/internal/gateway/ratelimit"
	"github.com/flowmesh/core/internal/gateway/route"
)

// RouteAuth binds a route's authentication/authorization/rate-limit
// settings, since Route itself (internal/gateway/route) only carries the
// routing-relevant fields.
type RouteAuth struct {
	Scheme      AuthScheme
	RateLimiter ratelimit.Limiter
	RateLimitKey ratelimit.KeyFunc
}

// Pools resolves a target service name to its load balancer pool.
type Pools interface {
	Pool(targetService string) (*lb.Pool, bool)
}

// Pipeline wires every middleware stage into one http.Handler. Each stage
// returns early (writing a response) to short-circuit; otherwise processing
// continues to the next stage.
type Pipeline struct {
	Router        route.SubRouter
	Cache         *route.Cache
	Security      *SecurityScanner
	CORS          CORSConfig
	Auth          *Authenticator
	Authz         *Authorizer
	Transforms    []TransformRule
	Pools         Pools
	Forwarder     *Forwarder
	RouteAuth     map[string]RouteAuth // keyed by Route.Name
	Logger        *logger.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Registry
}

func (p *Pipeline) routeAuthFor(name string) RouteAuth {
	if p.RouteAuth == nil {
		return RouteAuth{}
	}
	return p.RouteAuth[name]
}

func matchedRequestFrom(r *http.Request) route.MatchedRequest {
	headers := map[string]string{}
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	query := map[string]string{}
	for k := range r.URL.Query() {
		query[k] = r.URL.Query().Get(k)
	}
	return route.MatchedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Host:    r.Host,
		Headers: headers,
		Query:   query,
	}
}

func clientIP(r *http.Request) string {
	return lb.ClientIPFromRequest(r)
}

// statusRecorder wraps http.ResponseWriter to capture the status code
// written, so ServeHTTP can label the GatewayRequests metric after the
// fact regardless of which stage wrote the response.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func statusClass(code int) string {
	if code == 0 {
		code = http.StatusOK
	}
	return strconv.Itoa(code/100) + "xx"
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	routeName := "unmatched"
	rec := &statusRecorder{ResponseWriter: w}
	if p.Metrics != nil {
		w = rec
		defer func() {
			p.Metrics.GatewayRequests.WithLabelValues(routeName, statusClass(rec.status)).Inc()
		}()
	}

	if p.CORS.HandlePreflight(w, r) {
		return
	}

	if p.Security != nil {
		findings := p.Security.Scan(r)
		if len(findings) > 0 {
			p.logFindings(r, findings)
			if p.Security.ShouldBlock(clientIP(r), findings) {
				http.Error(w, `{"error":"request blocked by security policy"}`, http.StatusForbidden)
				return
			}
		}
	}

	mr := matchedRequestFrom(r)
	matched, params, ok := p.Router.Find(mr)
	if !ok {
		http.Error(w, `{"error":"no matching route"}`, http.StatusNotFound)
		return
	}
	_ = params
	routeName = matched.Name

	auth := p.routeAuthFor(matched.Name)

	principal, authErr := p.Auth.Authenticate(auth.Scheme, r)
	if authErr != nil {
		if authErr.Challenge != "" {
			w.Header().Set("WWW-Authenticate", authErr.Challenge)
		}
		http.Error(w, `{"error":"`+authErr.Message+`"}`, http.StatusUnauthorized)
		return
	}

	if p.Authz != nil && !p.Authz.Authorize(r, principal) {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return
	}

	if auth.RateLimiter != nil {
		keyFunc := auth.RateLimitKey
		if keyFunc == nil {
			keyFunc = ratelimit.DefaultKeyFunc
		}
		key := keyFunc(clientIP(r), principal.Subject, r.Header.Get("X-API-Key"), matched.Name)
		decision, err := auth.RateLimiter.Allow(r.Context(), key)
		if err == nil {
			applyRateLimitHeaders(w, decision)
			if p.Metrics != nil {
				p.Metrics.RateLimitDecisions.WithLabelValues(routeName, string(decision.Action)).Inc()
			}
			if !decision.Allowed && decision.Action == ratelimit.ActionReject {
				http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
				return
			}
		}
	}

	ApplyHeaderRules(p.Transforms, r.Header, DirectionRequest)
	ApplyQueryRules(p.Transforms, r.URL)
	ApplyPathRules(p.Transforms, r.URL)

	pool, ok := p.Pools.Pool(matched.TargetService)
	if !ok {
		http.Error(w, `{"error":"no servers configured for target service"}`, http.StatusServiceUnavailable)
		return
	}

	server, err := pool.Pick(matched.Name + ":" + clientIP(r))
	if err != nil {
		http.Error(w, `{"error":"no healthy upstream servers"}`, http.StatusServiceUnavailable)
		return
	}
	if p.Metrics != nil {
		p.Metrics.CircuitBreakerState.WithLabelValues(server.ID).Set(metrics.CircuitState(pool.BreakerState(server.ID)))
	}

	p.CORS.ApplyActual(w, r)
	p.Forwarder.Forward(w, r, &matched, server, pool)
}

func (p *Pipeline) logFindings(r *http.Request, findings []Finding) {
	if p.Logger == nil {
		return
	}
	for _, f := range findings {
		p.Logger.Warnf("security finding: pattern=%s severity=%s location=%s path=%s", f.Pattern, f.Severity, f.Location, r.URL.Path)
	}
}

func applyRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", itoa64(int64(d.Limit)))
	w.Header().Set("X-RateLimit-Remaining", itoa64(int64(d.Remaining)))
	w.Header().Set("X-RateLimit-Reset", itoa64(d.ResetAt.Unix()))
	if !d.Allowed && d.Action == ratelimit.ActionDelay {
		w.Header().Set("Retry-After", itoa64(int64(d.DelaySeconds)))
	}
}

// WithRequestID is the outermost wrapper, matching the rest of the platform's
// request id propagation.
func WithRequestID(next http.Handler) http.Handler {
	return middleware.RequestID(next)
}
