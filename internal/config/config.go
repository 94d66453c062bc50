package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Auth        AuthConfig
	Telemetry   TelemetryConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds the optional queue ingest settings.
// The queue path is enabled only when URL is set.
type RabbitMQConfig struct {
	URL              string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	EventExchange    string
	EventRoutingKey  string
	DLQQueue         string
	PrefetchCount    int
}

// Enabled reports whether the queue ingest path is configured.
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// AuthConfig holds the static API key allow-list for the ingest endpoint
type AuthConfig struct {
	APIKeys []string
}

// TelemetryConfig holds the telemetry tunables with their documented defaults
type TelemetryConfig struct {
	MaxReadingsPerSample     int
	SampleOverfetchFactor    int
	LivenessThresholdSeconds int
	AggregateWindowDays      int
	DashboardRowLimit        int
	MaxSampleLimit           int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "meter-telemetry-service"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "meter-telemetry.ingest.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", "meter-telemetry.ingest.queue"),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "meter.sample.raw"),
			EventExchange:    getEnv("RABBITMQ_EVENT_EXCHANGE", "meter-telemetry.events.exchange"),
			EventRoutingKey:  getEnv("RABBITMQ_EVENT_ROUTING_KEY", "meter.sample.accepted"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "meter-telemetry.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Auth: AuthConfig{
			APIKeys: getEnvAsList("API_KEYS"),
		},
		Telemetry: TelemetryConfig{
			MaxReadingsPerSample:     getEnvAsInt("MAX_READINGS_PER_SAMPLE", 100),
			SampleOverfetchFactor:    getEnvAsInt("SAMPLE_OVERFETCH_FACTOR", 10),
			LivenessThresholdSeconds: getEnvAsInt("LIVENESS_THRESHOLD_SECONDS", 120),
			AggregateWindowDays:      getEnvAsInt("AGGREGATE_WINDOW_DAYS", 7),
			DashboardRowLimit:        getEnvAsInt("DASHBOARD_ROW_LIMIT", 10),
			MaxSampleLimit:           getEnvAsInt("MAX_SAMPLE_LIMIT", 100),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if len(cfg.Auth.APIKeys) == 0 {
		return nil, fmt.Errorf("API_KEYS is required but not set in environment variables")
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
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
