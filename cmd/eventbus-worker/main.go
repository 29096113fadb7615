// Command eventbus-worker runs the transactional outbox processor and hosts
// the event bus's Kafka-backed dispatch used by plugin/service subscribers
// compiled into this binary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmesh/core/internal/common/config"
	"github.com/flowmesh/core/internal/common/db"
	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/common/middleware"
	"github.com/flowmesh/core/internal/common/mtls"
	redisClient "github.com/flowmesh/core/internal/common/redis"
	"github.com/flowmesh/core/internal/events/bus"
	"github.com/flowmesh/core/internal/events/outbox"
)

func main() {
	cfg, err := config.Load("eventbus-worker")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Service.Name)
	log.Infof("starting eventbus-worker in %s mode", cfg.Service.Environment)

	database, err := db.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	rdb, err := redisClient.Connect(cfg.Redis, log)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	transport := bus.NewKafkaTransport(cfg.Kafka, log)
	outboxStore := outbox.NewStore(database.DB, log)
	eventBus := bus.New(transport, outboxStore, log, cfg.Outbox, 30*time.Second)

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	processor := outbox.NewProcessor(outboxStore, transport, log, cfg.Outbox)
	processor.Metrics = metricsRegistry

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go processor.Start(ctx)

	adminServer := &http.Server{
		Addr:    ":" + cfg.Service.Port,
		Handler: buildAdminMux(cfg, reg, database, rdb, outboxStore, log),
	}

	mtlsCfg := mtls.LoadFromEnv()
	mtlsCfg.ServiceName = cfg.Service.Name
	tlsConfig, err := mtlsCfg.ServerTLSConfig()
	if err != nil {
		log.Fatalf("failed to build mTLS server config: %v", err)
	}
	if tlsConfig != nil {
		adminServer.TLSConfig = tlsConfig
	}

	go func() {
		log.Infof("eventbus-worker admin surface listening on %s", adminServer.Addr)
		if err := serveHTTP(adminServer, mtlsCfg.Enabled); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down eventbus-worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	adminServer.Shutdown(shutdownCtx)
	eventBus.Stop(5 * time.Second)
}

// serveHTTP runs server.ListenAndServe, or ListenAndServeTLS with the
// server's own TLSConfig when mTLS is enabled, blocking until shutdown.
func serveHTTP(server *http.Server, mtlsEnabled bool) error {
	if mtlsEnabled {
		return server.ListenAndServeTLS("", "")
	}
	return server.ListenAndServe()
}

func buildAdminMux(cfg *config.Config, reg *prometheus.Registry, database *db.DB, rdb *redisClient.Client, outboxStore *outbox.Store, log *logger.Logger) http.Handler {
	m := mux.NewRouter()

	m.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	m.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := database.Health(ctx); err != nil {
			writeNotReady(w, err)
			return
		}
		if err := rdb.Health(ctx); err != nil {
			writeNotReady(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)

	m.Handle("/metrics", metrics.Handler(reg)).Methods(http.MethodGet)

	admin := m.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.JWTAuth(cfg.JWT.Secret))

	admin.HandleFunc("/outbox/dead-letters", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				limit = n
			}
		}
		rows, err := outboxStore.GetDeadLetters(r.Context(), limit, r.URL.Query().Get("event_type"))
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(rows)
	}).Methods(http.MethodGet)

	admin.HandleFunc("/outbox/dead-letters/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := outboxStore.RetryDeadLetter(r.Context(), id); err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	return middleware.CORS(m)
}

func writeNotReady(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "reason": err.Error()})
}
