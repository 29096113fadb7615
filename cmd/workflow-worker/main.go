// Command workflow-worker runs the workflow engine's recovery sweep and
// hosts the distributed saga manager, which correlates saga commands and
// replies over the event bus.
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
	"github.com/flowmesh/core/internal/common/db"
	"github.com/flowmesh/core/internal/common/logger"
	"github.com/flowmesh/core/internal/common/metrics"
	"github.com/flowmesh/core/internal/common/middleware"
	"github.com/flowmesh/core/internal/common/mtls"
	redisClient "github.com/flowmesh/core/internal/common/redis"
	"github.com/flowmesh/core/internal/events"
	"github.com/flowmesh/core/internal/events/bus"
	"github.com/flowmesh/core/internal/events/outbox"
	"github.com/flowmesh/core/internal/workflow"
	"github.com/flowmesh/core/internal/workflow/saga"
)

// busEventPublisher adapts *bus.Bus's events.Event-based Publish to the
// plain (eventType, payload, correlationID) shape the workflow engine emits
// its own lifecycle events through.
type busEventPublisher struct {
	bus           *bus.Bus
	sourceService string
}

func (p *busEventPublisher) Publish(ctx context.Context, eventType string, payload interface{}, correlationID string) error {
	return p.bus.Publish(ctx, events.New(eventType, payload, events.Metadata{
		CorrelationID: correlationID,
		SourceService: p.sourceService,
	}))
}

func main() {
	cfg, err := config.Load("workflow-worker")
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log := logger.New(cfg.Service.Name)
	log.Infof("starting workflow-worker in %s mode", cfg.Service.Environment)

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

	workflowStore := workflow.NewStore(database.DB, log)
	publisher := &busEventPublisher{bus: eventBus, sourceService: cfg.Service.Name}
	engine := workflow.NewEngine(workflowStore, publisher, log, cfg.Workflow.MaxConcurrentInstances)

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)
	engine.Metrics = metricsRegistry

	if cfg.Workflow.DefinitionsPath != "" {
		defs, err := workflow.LoadDefinitionsDir(cfg.Workflow.DefinitionsPath, workflow.Registry{})
		if err != nil {
			log.Errorf("failed to load workflow definitions: %v", err)
		}
		for _, def := range defs {
			engine.RegisterDefinition(def)
		}
	}

	sagaManager := saga.NewManager(engine, eventBus, cfg.Service.Name, log)

	recovery := workflow.NewRecovery(workflowStore, engine, cfg.Workflow.RecoverySweepInterval, cfg.Workflow.RecoveryStaleAfter, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go recovery.Run(ctx)

	adminServer := &http.Server{
		Addr:    ":" + cfg.Service.Port,
		Handler: buildAdminMux(cfg, reg, database, rdb, workflowStore, sagaManager, log),
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
		log.Infof("workflow-worker admin surface listening on %s", adminServer.Addr)
		if err := serveHTTP(adminServer, mtlsCfg.Enabled); err != nil && err != http.ErrServerClosed {
			log.Errorf("admin server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down workflow-worker")

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

func buildAdminMux(cfg *config.Config, reg *prometheus.Registry, database *db.DB, rdb *redisClient.Client, store *workflow.Store, sagaManager *saga.Manager, log *logger.Logger) http.Handler {
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

	admin.HandleFunc("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		inst, err := store.GetInstance(r.Context(), id)
		if err == workflow.ErrInstanceNotFound {
			http.Error(w, `{"error":"workflow instance not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(inst)
	}).Methods(http.MethodGet)

	admin.HandleFunc("/sagas/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		inst, err := sagaManager.Status(r.Context(), store, id)
		if err == workflow.ErrInstanceNotFound {
			http.Error(w, `{"error":"saga instance not found"}`, http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(inst)
	}).Methods(http.MethodGet)

	return middleware.CORS(m)
}

func writeNotReady(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]string{"status": "not ready", "reason": err.Error()})
}
