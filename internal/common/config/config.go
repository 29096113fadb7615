// Package config loads flowmesh's configuration from the environment, one
// struct per subsystem: getEnv/getEnvAsInt/getEnvAsDuration helpers, sane
// defaults, and a production-mode validation gate that refuses to boot on
// placeholder secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Service  ServiceConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	JWT      JWTConfig
	Gateway  GatewayConfig
	Outbox   OutboxConfig
	Workflow WorkflowConfig
}

type ServiceConfig struct {
	Name        string
	Port        string
	Environment string // dev, staging, production
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers           []string
	GroupID           string
	AutoOffsetReset   string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
}

type JWTConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// GatewayConfig holds settings for the API gateway's pipeline: default
// route timeout, security header toggles, and the optional declarative
// route table.
type GatewayConfig struct {
	Port                string
	AdminPort           string
	DefaultRouteTimeout time.Duration
	HSTSEnabled         bool
	FrameOptionsDeny    bool
	RouteTablePath      string // optional YAML file of declarative routes
}

// OutboxConfig holds the outbox processor's polling and retry behavior.
type OutboxConfig struct {
	PollInterval       time.Duration
	RetryDelay         time.Duration
	BatchSize          int
	DefaultMaxAttempts int
	// RecoveryThreshold bounds how stale a PROCESSING row must be before the
	// startup sweep reverts it to PENDING. Defaults to 2x PollInterval.
	RecoveryThreshold time.Duration
}

// WorkflowConfig holds the workflow engine's concurrency and recovery
// behavior.
type WorkflowConfig struct {
	MaxConcurrentInstances int
	DefaultStepTimeout     time.Duration
	DefaultWorkflowTimeout time.Duration
	RecoverySweepInterval  time.Duration
	RecoveryStaleAfter     time.Duration
	DefinitionsPath        string // optional directory of declarative YAML workflow definitions
}

func getDefaultPort(serviceName string) string {
	defaultPorts := map[string]string{
		"gateway":         "8080",
		"eventbus-worker": "8081",
		"workflow-worker": "8082",
	}

	if port, exists := defaultPorts[serviceName]; exists {
		return port
	}
	return "8080"
}

func Load(serviceName string) (*Config, error) {
	// Local development convenience: if a .env file is present, load it into
	// the environment before reading any variable below. In production the
	// environment is supplied by the deployment platform and no .env file
	// exists, so a missing file is not an error.
	_ = godotenv.Load()

	servicePortEnv := fmt.Sprintf("%s_PORT", strings.ToUpper(strings.ReplaceAll(serviceName, "-", "_")))
	defaultPort := getDefaultPort(serviceName)

	pollInterval := getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second)

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnv(servicePortEnv, getEnv("PORT", defaultPort)),
			Environment: getEnv("ENV", "dev"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", fmt.Sprintf("flowmesh_%s", serviceName)),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:           strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID:           getEnv("KAFKA_GROUP_ID", fmt.Sprintf("%s-group", serviceName)),
			AutoOffsetReset:   getEnv("KAFKA_AUTO_OFFSET_RESET", "latest"),
			SessionTimeout:    getEnvAsDuration("KAFKA_SESSION_TIMEOUT", 10*time.Second),
			HeartbeatInterval: getEnvAsDuration("KAFKA_HEARTBEAT_INTERVAL", 3*time.Second),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
			AccessTokenTTL:  getEnvAsDuration("JWT_ACCESS_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvAsDuration("JWT_REFRESH_TTL", 7*24*time.Hour),
		},
		Gateway: GatewayConfig{
			Port:                getEnv("GATEWAY_PORT", "8080"),
			AdminPort:           getEnv("GATEWAY_ADMIN_PORT", "9090"),
			DefaultRouteTimeout: getEnvAsDuration("GATEWAY_ROUTE_TIMEOUT", 30*time.Second),
			HSTSEnabled:         getEnvAsBool("GATEWAY_HSTS_ENABLED", true),
			FrameOptionsDeny:    getEnvAsBool("GATEWAY_FRAME_DENY", true),
			RouteTablePath:      getEnv("GATEWAY_ROUTE_TABLE", ""),
		},
		Outbox: OutboxConfig{
			PollInterval:       pollInterval,
			RetryDelay:         getEnvAsDuration("OUTBOX_RETRY_DELAY", 5*time.Second),
			BatchSize:          getEnvAsInt("OUTBOX_BATCH_SIZE", 100),
			DefaultMaxAttempts: getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
			RecoveryThreshold:  getEnvAsDuration("OUTBOX_RECOVERY_THRESHOLD", 2*pollInterval),
		},
		Workflow: WorkflowConfig{
			MaxConcurrentInstances: getEnvAsInt("WORKFLOW_MAX_CONCURRENT", 50),
			DefaultStepTimeout:     getEnvAsDuration("WORKFLOW_STEP_TIMEOUT", 30*time.Minute),
			DefaultWorkflowTimeout: getEnvAsDuration("WORKFLOW_TIMEOUT", 24*time.Hour),
			RecoverySweepInterval:  getEnvAsDuration("WORKFLOW_RECOVERY_INTERVAL", 30*time.Second),
			RecoveryStaleAfter:     getEnvAsDuration("WORKFLOW_RECOVERY_STALE_AFTER", 5*time.Minute),
			DefinitionsPath:        getEnv("WORKFLOW_DEFINITIONS_PATH", ""),
		},
	}

	if cfg.Service.Environment == "production" {
		if cfg.JWT.Secret == "your-secret-key-change-in-production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		if cfg.Database.Password == "postgres" {
			return nil, fmt.Errorf("DB_PASSWORD must be set in production")
		}
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
