// Package pipeline wires the gateway's request handling into the ordered
// middleware chain: CORS preflight, security scanning, route resolution,
// authentication, authorization, rate limiting, transformation, load
// balancing, and upstream forwarding.
package pipeline

import (
	"context"
	"net/http"

	"github.com/flowmesh/core/internal/gateway/lb"
	"github.com/flowmesh/core/internal/gateway/ratelimit"
	"github.com/flowmesh/core/internal/gateway/route"
)

// Principal is whoever (or whatever) the authentication stage resolved the
// caller to be. Zero value is the anonymous principal under AuthNone.
type Principal struct {
	Subject     string
	Roles       []string
	Permissions []string
	Anonymous   bool
}

// reqContext carries state between middleware stages for a single request.
// Stored on the request's context.Context under reqContextKey.
type reqContext struct {
	RequestID    string
	Principal    Principal
	MatchedRoute *route.Route
	RouteParams  map[string]string
	TargetServer *lb.Server
	RateDecision ratelimit.Decision
	Attrs        map[string]interface{}
}

type contextKeyType struct{}

var contextKey = contextKeyType{}

func newReqContext(requestID string) *reqContext {
	return &reqContext{RequestID: requestID, Attrs: map[string]interface{}{}}
}

func fromRequest(r *http.Request) *reqContext {
	if rc, ok := r.Context().Value(contextKey).(*reqContext); ok {
		return rc
	}
	return nil
}

func withReqContext(r *http.Request, rc *reqContext) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), contextKey, rc))
}
