package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only the URL of the selected backend is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Store
	StoreBackend string

	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsDir string

	MongoURL      string
	MongoDatabase string

	RedisURL       string
	RedisKeyPrefix string

	// Queue
	CollectionName    string
	MaxProcessingTime time.Duration
	HolderID          string

	// Consumers (empty ConsumerQueues disables the worker pool)
	ConsumerQueues    []string
	WorkersPerQueue   int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	PollRateLimit     int

	// Webhook handler used by consumers
	WebhookURL     string
	WebhookTimeout time.Duration

	// Depth gauge sampling
	DepthInterval time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres)),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		DBMaxConns:    int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(getInt("DB_MIN_CONNS", 5)),
		MigrationsDir: getEnv("MIGRATIONS_DIR", "migrations"),

		MongoURL:      os.Getenv("MONGO_URL"),
		MongoDatabase: getEnv("MONGO_DATABASE", "docqueue"),

		RedisURL:       os.Getenv("REDIS_URL"),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "docqueue"),

		CollectionName:    getEnv("COLLECTION_NAME", "docqueue"),
		MaxProcessingTime: getDuration("MAX_PROCESSING_TIME", 30*time.Minute),
		HolderID:          os.Getenv("HOLDER_ID"),

		ConsumerQueues:    getList("CONSUMER_QUEUES"),
		WorkersPerQueue:   getInt("WORKERS_PER_QUEUE", 2),
		PollInterval:      getDuration("POLL_INTERVAL", time.Second),
		HeartbeatInterval: getDuration("HEARTBEAT_INTERVAL", 5*time.Minute),
		PollRateLimit:     getInt("POLL_RATE_LIMIT", 50),

		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		WebhookTimeout: getDuration("WEBHOOK_TIMEOUT", 10*time.Second),

		DepthInterval: getDuration("DEPTH_INTERVAL", 15*time.Second),
	}

	switch cfg.StoreBackend {
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMongo:
		if cfg.MongoURL == "" {
			return nil, fmt.Errorf("MONGO_URL is required for the mongo backend")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required for the redis backend")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if len(cfg.ConsumerQueues) > 0 && cfg.WebhookURL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is required when CONSUMER_QUEUES is set")
	}

	if cfg.MaxProcessingTime <= 0 {
		return nil, fmt.Errorf("MAX_PROCESSING_TIME must be positive, got %s", cfg.MaxProcessingTime)
	}
	// Renewals must land before the lease they renew lapses.
	if cfg.HeartbeatInterval >= cfg.MaxProcessingTime {
		return nil, fmt.Errorf("HEARTBEAT_INTERVAL (%s) must be shorter than MAX_PROCESSING_TIME (%s)",
			cfg.HeartbeatInterval, cfg.MaxProcessingTime)
	}
	if cfg.DepthInterval <= 0 {
		return nil, fmt.Errorf("DEPTH_INTERVAL must be positive, got %s", cfg.DepthInterval)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// getList splits a comma-separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
