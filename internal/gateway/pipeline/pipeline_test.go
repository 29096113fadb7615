package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowmesh/core/internal/gateway/lb"
	"github.com/flowmesh/core/internal/gateway/route"
)

type fakePools struct {
	pools map[string]*lb.Pool
}

func (f *fakePools) Pool(targetService string) (*lb.Pool, bool) {
	p, ok := f.pools[targetService]
	return p, ok
}

func newTestRouter(t *testing.T) *route.PathRouter {
	t.Helper()
	r := route.NewPathRouter(route.NewCompiler(10), route.NormalizeOptions{CaseSensitive: true})
	if err := r.AddRoute(route.Route{
		Name:          "users",
		Priority:      1,
		Kind:          route.MatchPrefix,
		Pattern:       "/api/users",
		TargetService: "users-svc",
	}); err != nil {
		t.Fatalf("AddRoute failed: %v", err)
	}
	return r
}

func TestPipelineForwardsToHealthyUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	server := lb.NewServer("s1", upstream.URL, 1)
	pool := lb.NewPool(&lb.RoundRobin{}, lb.BreakerConfig{}, server)

	p := &Pipeline{
		Router:     newTestRouter(t),
		CORS:       CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET"}},
		Auth:       NewAuthenticator(),
		Pools:      &fakePools{pools: map[string]*lb.Pool{"users-svc": pool}},
		Forwarder:  NewForwarder(),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/1", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPipelineReturns404WhenNoRouteMatches(t *testing.T) {
	p := &Pipeline{
		Router: newTestRouter(t),
		CORS:   CORSConfig{},
		Auth:   NewAuthenticator(),
		Pools:  &fakePools{pools: map[string]*lb.Pool{}},
	}

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestPipelineRejectsMissingJWT(t *testing.T) {
	router := route.NewPathRouter(route.NewCompiler(10), route.NormalizeOptions{CaseSensitive: true})
	router.AddRoute(route.Route{Name: "secure", Priority: 1, Kind: route.MatchExact, Pattern: "/secure", TargetService: "secure-svc"})

	p := &Pipeline{
		Router: router,
		CORS:   CORSConfig{},
		Auth:   NewAuthenticator(),
		Pools:  &fakePools{pools: map[string]*lb.Pool{}},
		RouteAuth: map[string]RouteAuth{
			"secure": {Scheme: AuthJWT},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestPipelineHandlesCORSPreflight(t *testing.T) {
	p := &Pipeline{
		Router: newTestRouter(t),
		CORS:   CORSConfig{AllowedOrigins: []string{"https://example.com"}, AllowedMethods: []string{"GET", "POST"}},
		Auth:   NewAuthenticator(),
		Pools:  &fakePools{},
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Errorf("expected origin echoed, got %s", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}
