package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	LogLevel      string
	JWTSigningKey string
	JWTIssuer     string
	JWTAudience   string

	// AtomicAudit commits each record write and its audit entry in one
	// transaction. Only the postgres backend supports it.
	AtomicAudit bool

	Store     StoreConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
}

// StoreConfig selects and tunes the document store.
type StoreConfig struct {
	Backend         string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	TxTimeout       time.Duration
}

// RedisConfig configures the change-notification pub/sub connection.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit outbox relay.
type KafkaConfig struct {
	Brokers            []string
	AuditTopicPrefix   string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	TopicPartitions    int32
	ReplicationFactor  int16
}

// RateLimitConfig bounds record mutations per principal. Zero disables it.
type RateLimitConfig struct {
	Mutations int
	Window    time.Duration
}

// Enabled reports whether a broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// IsProduction reports whether the server runs in production mode.
func (s Server) IsProduction() bool {
	return s.Environment == "production"
}

const devSigningKey = "dev-secret-key-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = devSigningKey
	}

	return Server{
		Addr:          envOr("STEWARD_ADDR", ":8080"),
		Environment:   envOr("STEWARD_ENV", "development"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		JWTSigningKey: jwtSigningKey,
		JWTIssuer:     envOr("JWT_ISSUER", "steward"),
		JWTAudience:   envOr("JWT_AUDIENCE", "steward-console"),
		AtomicAudit:   os.Getenv("ATOMIC_AUDIT") == "true",
		Store: StoreConfig{
			Backend:         envOr("STORE_BACKEND", BackendMemory),
			DatabaseURL:     os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			TxTimeout:       envDuration("DB_TX_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:            splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopicPrefix:   envOr("KAFKA_AUDIT_TOPIC_PREFIX", "steward.audit"),
			OutboxPollInterval: envDuration("OUTBOX_POLL_INTERVAL", time.Second),
			OutboxBatchSize:    envInt("OUTBOX_BATCH_SIZE", 100),
			TopicPartitions:    int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			ReplicationFactor:  int16(envInt("KAFKA_REPLICATION_FACTOR", 1)),
		},
		RateLimit: RateLimitConfig{
			Mutations: envInt("RATE_LIMIT_MUTATIONS", 120),
			Window:    envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}
}

// Validate rejects combinations the server cannot run with.
func (s Server) Validate() error {
	var errs []error
	switch s.Store.Backend {
	case BackendMemory:
		if s.AtomicAudit {
			errs = append(errs, errors.New("ATOMIC_AUDIT requires STORE_BACKEND=postgres"))
		}
		if s.Kafka.Enabled() {
			errs = append(errs, errors.New("KAFKA_BROKERS requires STORE_BACKEND=postgres for the audit outbox"))
		}
	case BackendPostgres:
		if s.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, errors.New("STORE_BACKEND must be memory or postgres"))
	}
	if s.RateLimit.Mutations < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_MUTATIONS must not be negative"))
	}
	if s.IsProduction() && s.JWTSigningKey == devSigningKey {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be set in production"))
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
