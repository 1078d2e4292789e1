// Package config loads the streaming processor's configuration from
// environment variables, the same shape used across the stream coordinator,
// the backfill coordinator, and the three sinks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-resolved configuration for a single process. Both the
// stream subcommand and the backfill subcommand load the same Config; fields
// that only matter to one mode are simply ignored by the other.
type Config struct {
	Env string

	// Log (Kafka-compatible partitioned log)
	LogBrokers        []string
	LogTopic          string
	LogConsumerGroup  string
	LogOffsetReset    string
	LogSessionTimeout time.Duration
	LogMaxPollRecords int

	// Relational content store
	PostgresURL      string
	PostgresPoolSize int
	PostgresOverflow int

	// Aggregation store (leaderboard)
	RedisURL        string
	RedisDB         int
	RedisMaxConns   int
	WindowMinutes   int
	TopContentKey   string
	AggregationTTL  time.Duration

	// Analytical warehouse
	ClickHouseURL        string
	ClickHouseDatabase   string
	ClickHouseTable      string
	WarehouseBatchSize   int
	WarehouseMaxBatchAge time.Duration

	// External HTTP sink
	HTTPSinkURL           string
	HTTPSinkTimeout       time.Duration
	HTTPSinkRetryAttempts int
	HTTPSinkHeaders       map[string]string

	// Processing
	ProcessingBatchSize    int
	ProcessingInterval     time.Duration
	ProcessingMaxBatchTime time.Duration
	ProcessingWorkers      int
	ProcessingQueueSize    int
	AtLeastOnceCommits     bool

	// Backfill
	BackfillBatchSize int
	BackfillWorkers   int
}

// Load loads configuration from environment variables. It returns an error
// if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		Env: getEnv("ENV", "development"),

		LogTopic:          getEnv("LOG_TOPIC", "engagement-events"),
		LogConsumerGroup:  getEnv("LOG_CONSUMER_GROUP", "engagement-streamproc"),
		LogOffsetReset:    getEnv("LOG_OFFSET_RESET", "earliest"),
		LogSessionTimeout: getEnvDuration("LOG_SESSION_TIMEOUT", 30*time.Second),
		LogMaxPollRecords: getEnvInt("LOG_MAX_POLL_RECORDS", 500),

		PostgresPoolSize: getEnvInt("POSTGRES_POOL_SIZE", 10),
		PostgresOverflow: getEnvInt("POSTGRES_OVERFLOW", 5),

		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisMaxConns:  getEnvInt("REDIS_MAX_CONNS", 20),
		WindowMinutes:  getEnvInt("WINDOW_MINUTES", 10),
		TopContentKey:  getEnv("TOP_CONTENT_KEY", "top_content"),
		AggregationTTL: getEnvDuration("AGGREGATION_TTL", 15*time.Minute),

		ClickHouseDatabase:   getEnv("CLICKHOUSE_DATABASE", "analytics"),
		ClickHouseTable:      getEnv("CLICKHOUSE_TABLE", "engagement_events"),
		WarehouseBatchSize:   getEnvInt("WAREHOUSE_BATCH_SIZE", 1000),
		WarehouseMaxBatchAge: getEnvDuration("WAREHOUSE_MAX_BATCH_AGE", 30*time.Second),

		HTTPSinkTimeout:       getEnvDuration("HTTP_SINK_TIMEOUT", 30*time.Second),
		HTTPSinkRetryAttempts: getEnvInt("HTTP_SINK_RETRY_ATTEMPTS", 3),
		HTTPSinkHeaders:       getEnvHeaderMap("HTTP_SINK_HEADERS"),

		ProcessingBatchSize:    getEnvInt("PROCESSING_BATCH_SIZE", 100),
		ProcessingInterval:     getEnvDuration("PROCESSING_INTERVAL", 1*time.Second),
		ProcessingMaxBatchTime: getEnvDuration("PROCESSING_MAX_BATCH_TIME", 5*time.Second),
		ProcessingWorkers:      getEnvInt("PROCESSING_WORKERS", 4),
		ProcessingQueueSize:    getEnvInt("PROCESSING_QUEUE_SIZE", 10000),
		AtLeastOnceCommits:     getEnvBool("AT_LEAST_ONCE_COMMITS", true),

		BackfillBatchSize: getEnvInt("BACKFILL_BATCH_SIZE", 1000),
		BackfillWorkers:   getEnvInt("BACKFILL_WORKERS", 2),
	}

	cfg.LogBrokers = getEnvStringSlice("LOG_BOOTSTRAP_SERVERS", "localhost:9092")

	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}
	if cfg.ClickHouseURL, err = getEnvRequired("CLICKHOUSE_URL"); err != nil {
		return nil, err
	}

	// The HTTP sink is optional: an empty URL degrades it to a no-op rather
	// than failing startup.
	cfg.HTTPSinkURL = getEnv("HTTP_SINK_URL", "")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("config: missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvStringSlice(key, fallback string) []string {
	raw := getEnv(key, fallback)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvHeaderMap parses a comma-separated list of key=value pairs, the
// shape used for HTTP_SINK_HEADERS (e.g. "Authorization=Bearer xyz,X-Source=streamproc").
func getEnvHeaderMap(key string) map[string]string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			continue
		}
		headers[kv[0]] = kv[1]
	}
	return headers
}
