// Command gateway runs the API gateway: the data-plane proxy on
// GatewayConfig.Port and the admin/control surface (health, readiness,
// metrics) on GatewayConfig.AdminPort.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/common/middleware"
	"github.com/flowmesh/core/internal/common/mtls"
	redisClient "github.com/flowmesh/core/internal/common/redis"
	"github.com/flowmesh/core/internal/gateway/lb"
	"github.com/flowmesh/core/internal/gateway/pipeline"
	"github.com/flowmesh/core/internal/gateway/ratelimit"
	"github.com/flowmesh/core/internal/gateway/route"
)

func main() {
	cfg, err := config.Load("gateway")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Service.Name)
	log.Infof("starting gateway in %s mode", cfg.Service.Environment)

	rdb, err := redisClient.Connect(cfg.Redis, log)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	mtlsCfg := mtls.LoadFromEnv()
	mtlsCfg.ServiceName = cfg.Service.Name
	forwarderClient := &http.Client{}
	if transport, err := mtlsCfg.ClientTransport(); err != nil {
		log.Fatalf("failed to build mTLS client transport: %v", err)
	} else if transport != nil {
		forwarderClient.Transport = transport
	}

	pathRouter := route.NewPathRouter(route.NewCompiler(0), route.NormalizeOptions{CollapseSlashes: true, StripTrailingSlash: true})
	cache := route.NewCache()
	pools := lb.NewRegistry()
	routeAuth := map[string]pipeline.RouteAuth{}

	var targetServices []string
	if cfg.Gateway.RouteTablePath != "" {
		table, err := route.LoadTable(cfg.Gateway.RouteTablePath)
		if err != nil {
			log.Fatalf("failed to load route table: %v", err)
		}
		targetServices = buildRoutes(table, pathRouter, pools, routeAuth, rdb, log)
	}

	hc := lb.NewHealthChecker(lb.HealthCheckConfig{}, log)
	for _, name := range targetServices {
		if p, ok := pools.Pool(name); ok {
			hc.Start(context.Background(), p)
		}
	}

	p := &pipeline.Pipeline{
		Router:    pathRouter,
		Cache:     cache,
		Security:  pipeline.NewSecurityScanner(pipeline.SecurityConfig{}),
		CORS:      pipeline.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, AllowedHeaders: []string{"*"}},
		Auth:      buildAuthenticator(cfg),
		Pools:     pools,
		Forwarder: &pipeline.Forwarder{Client: forwarderClient, Metrics: metricsRegistry},
		RouteAuth: routeAuth,
		Logger:    log,
		Metrics:   metricsRegistry,
	}

	handler := middleware.Recovery(log)(middleware.Logging(log)(pipeline.WithRequestID(p)))

	dataServer := &http.Server{
		Addr:         ":" + cfg.Gateway.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	adminServer := &http.Server{
		Addr:    ":" + cfg.Gateway.AdminPort,
		Handler: buildAdminMux(cfg, reg, rdb, pathRouter, log),
	}

	tlsConfig, err := mtlsCfg.ServerTLSConfig()
	if err != nil {
		log.Fatalf("failed to build mTLS server config: %v", err)
	}
	if tlsConfig != nil {
		dataServer.TLSConfig = tlsConfig
		adminServer.TLSConfig = tlsConfig.Clone()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("gateway listening on %s", dataServer.Addr)
		if err := serveHTTP(dataServer, mtlsCfg.Enabled); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server failed: %v", err)
		}
	}()
	go func() {
		log.Infof("gateway admin surface listening on %s", adminServer.Addr)
		if err := serveHTTP(adminServer, mtlsCfg.Enabled); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	dataServer.Shutdown(shutdownCtx)
	adminServer.Shutdown(shutdownCtx)
}

// serveHTTP runs server.ListenAndServe, or ListenAndServeTLS with the
// server's own TLSConfig when mTLS is enabled, blocking until shutdown.
func serveHTTP(server *http.Server, mtlsEnabled bool) error {
	if mtlsEnabled {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}

func buildAuthenticator(cfg *config.Config) *pipeline.Authenticator {
	a := pipeline.NewAuthenticator()
	a.JWTConfig = cfg.JWT
	return a
}

func buildRoutes(table route.Table, router *route.PathRouter, pools *lb.Registry, routeAuth map[string]pipeline.RouteAuth, rdb *redisClient.Client, log *logger.Logger) []string {
	store := ratelimit.NewRedisStore(rdb)

	for _, r := range table.Routes {
		if err := router.AddRoute(r); err != nil {
			log.Errorf("failed to register route %s: %v", r.Name, err)
			continue
		}

		spec := table.Auth[r.Name]
		ra := pipeline.RouteAuth{Scheme: pipeline.AuthScheme(spec.AuthScheme)}

		if spec.RateLimitAlgorithm != "" {
			limiter, err := ratelimit.New(ratelimit.Config{
				Algorithm:         ratelimit.Algorithm(spec.RateLimitAlgorithm),
				RequestsPerWindow: spec.RequestsPerWindow,
				WindowSize:        spec.WindowSize,
				BurstSize:         spec.BurstSize,
				Action:            ratelimit.Action(spec.RateLimitAction),
				ThrottleFactor:    spec.ThrottleFactor,
			}, store)
			if err != nil {
				log.Errorf("failed to build rate limiter for route %s: %v", r.Name, err)
			} else {
				ra.RateLimiter = limiter
			}
		}

		routeAuth[r.Name] = ra
	}

	var targetServices []string
	for _, ps := range table.Pools {
		servers := make([]*lb.Server, 0, len(ps.Servers))
		for _, s := range ps.Servers {
			servers = append(servers, lb.NewServer(s.ID, s.URL, s.Weight))
		}

		var algorithmName string
		for _, r := range table.Routes {
			if r.TargetService == ps.TargetService && r.LoadBalancingAlgorithm != "" {
				algorithmName = r.LoadBalancingAlgorithm
				break
			}
		}

		algorithm := lb.AlgorithmByName(algorithmName)
		if ps.StickySessions {
			algorithm = &lb.Sticky{Inner: algorithm, Store: rdb, TTL: ps.StickyTTL}
		}

		pool := lb.NewPool(algorithm, lb.BreakerConfig{
			FailureThreshold: ps.FailureThreshold,
			OpenTimeout:      ps.OpenTimeout,
			HalfOpenMaxCalls: ps.HalfOpenMaxCalls,
		}, servers...)

		pools.Add(ps.TargetService, pool)
		targetServices = append(targetServices, ps.TargetService)
	}

	return targetServices
}

func buildAdminMux(cfg *config.Config, reg *prometheus.Registry, rdb *redisClient.Client, pathRouter *route.PathRouter, log *logger.Logger) http.Handler {
	m := mux.NewRouter()

	m.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	m.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Health(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "reason": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	m.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)

	admin := m.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.JWTAuth(cfg.JWT.Secret))

	admin.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pathRouter.Routes())
	}).Methods(http.MethodGet)

	return middleware.CORS(m)
}
