package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wms-platform/ledger-engine/pkg/kafka"
	"github.com/wms-platform/ledger-engine/pkg/mongodb"
	"github.com/wms-platform/ledger-engine/pkg/resilience"
	"github.com/wms-platform/ledger-engine/pkg/temporal"
	"github.com/wms-platform/ledger-engine/pkg/tracing"
)

const (
	ServiceName = "ledger-engine"

	// EnvConfigFile names an optional YAML file loaded before the environment.
	EnvConfigFile = "LEDGER_CONFIG_FILE"
)

// Config holds application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	MongoDB     *mongodb.Config   `yaml:"mongodb"`
	Kafka       *kafka.Config     `yaml:"kafka"`
	Tracing     *tracing.Config   `yaml:"tracing"`
	Temporal    *temporal.Config  `yaml:"temporal"`
	Engine      EngineConfig      `yaml:"engine"`
	Outbox      OutboxConfig      `yaml:"outbox"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// ValidateRequests checks requests against api/openapi.yaml.
	ValidateRequests bool     `yaml:"validateRequests"`
	TrustedProxies   []string `yaml:"trustedProxies"`
}

// EngineConfig tunes the ledger engine.
type EngineConfig struct {
	UseTransactions   bool                   `yaml:"useTransactions"`
	PublishEvents     bool                   `yaml:"publishEvents"`
	ValidateEvents    bool                   `yaml:"validateEvents"`
	CompensationRetry resilience.RetryConfig `yaml:"compensationRetry"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
	Retention    time.Duration `yaml:"retention"`
}

type IdempotencyConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RequireKey  bool          `yaml:"requireKey"`
	Retention   time.Duration `yaml:"retention"`
	LockTimeout time.Duration `yaml:"lockTimeout"`
}

// Default returns the configuration used when neither a file nor the
// environment sets a value.
func Default() *Config {
	tracingConfig := tracing.DefaultConfig(ServiceName)
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		MongoDB:  mongodb.DefaultConfig(),
		Kafka:    kafka.DefaultConfig(),
		Tracing:  tracingConfig,
		Temporal: temporal.DefaultConfig(),
		Engine: EngineConfig{
			PublishEvents:     true,
			CompensationRetry: *resilience.DefaultRetryConfig(),
		},
		Outbox: OutboxConfig{
			PollInterval: time.Second,
			BatchSize:    100,
			Retention:    7 * 24 * time.Hour,
		},
		Idempotency: IdempotencyConfig{
			Enabled:     true,
			Retention:   24 * time.Hour,
			LockTimeout: 5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// LEDGER_CONFIG_FILE, then the environment.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("SERVER_ADDR", c.Server.Addr)
	c.Server.ValidateRequests = getEnvBool("VALIDATE_REQUESTS", c.Server.ValidateRequests)

	c.MongoDB.URI = getEnv("MONGODB_URI", c.MongoDB.URI)
	c.MongoDB.Database = getEnv("MONGODB_DATABASE", c.MongoDB.Database)
	c.MongoDB.Username = getEnv("MONGODB_USERNAME", c.MongoDB.Username)
	c.MongoDB.Password = getEnv("MONGODB_PASSWORD", c.MongoDB.Password)
	c.MongoDB.ReplicaSet = getEnv("MONGODB_REPLICA_SET", c.MongoDB.ReplicaSet)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	c.Kafka.ClientID = getEnv("KAFKA_CLIENT_ID", c.Kafka.ClientID)

	c.Tracing.Enabled = getEnvBool("TRACING_ENABLED", c.Tracing.Enabled)
	c.Tracing.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.OTLPEndpoint)
	c.Tracing.Environment = getEnv("ENVIRONMENT", c.Tracing.Environment)
	if rate := os.Getenv("TRACING_SAMPLE_RATE"); rate != "" {
		if v, err := strconv.ParseFloat(rate, 64); err == nil {
			c.Tracing.SampleRate = v
		}
	}

	c.Temporal.HostPort = getEnv("TEMPORAL_HOST", c.Temporal.HostPort)
	c.Temporal.Namespace = getEnv("TEMPORAL_NAMESPACE", c.Temporal.Namespace)
	c.Temporal.TaskQueue = getEnv("TEMPORAL_TASK_QUEUE", c.Temporal.TaskQueue)

	c.Engine.UseTransactions = getEnvBool("LEDGER_USE_TRANSACTIONS", c.Engine.UseTransactions)
	c.Engine.PublishEvents = getEnvBool("LEDGER_PUBLISH_EVENTS", c.Engine.PublishEvents)
	c.Engine.ValidateEvents = getEnvBool("LEDGER_VALIDATE_EVENTS", c.Engine.ValidateEvents)
	c.Engine.CompensationRetry.MaxAttempts = getEnvInt("LEDGER_COMPENSATION_ATTEMPTS", c.Engine.CompensationRetry.MaxAttempts)

	c.Idempotency.Enabled = getEnvBool("IDEMPOTENCY_ENABLED", c.Idempotency.Enabled)
	c.Idempotency.RequireKey = getEnvBool("IDEMPOTENCY_REQUIRE_KEY", c.Idempotency.RequireKey)
	c.Idempotency.Retention = getEnvDuration("IDEMPOTENCY_RETENTION", c.Idempotency.Retention)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch {
	case c.MongoDB.URI == "" || c.MongoDB.Database == "":
		return fmt.Errorf("mongodb uri and database are required")
	case len(c.Kafka.Brokers) == 0:
		return fmt.Errorf("at least one kafka broker is required")
	case c.Engine.CompensationRetry.MaxAttempts < 1:
		return fmt.Errorf("engine.compensationRetry.maxAttempts must be at least 1")
	case c.Engine.UseTransactions && !c.MongoDB.ReplicaSetConfigured():
		return fmt.Errorf("engine.useTransactions requires a mongodb replica set")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
