package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Supported aggregation strategies
const (
	StrategyBulk = "bulk"
	StrategyLoop = "loop"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	TimeZone    string
	// Location is resolved from TimeZone by Load
	Location  *time.Location
	Database  DatabaseConfig
	Rollup    RollupConfig
	Dashboard DashboardConfig
	HTTP      HTTPConfig
	RabbitMQ  RabbitMQConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver      string
	URL         string
	AutoMigrate bool
}

// RollupConfig holds aggregation engine settings
type RollupConfig struct {
	Strategy string
}

// DashboardConfig holds listing and chart settings
type DashboardConfig struct {
	PageSize       int
	ChartMaxPoints int
}

// HTTPConfig holds HTTP surface settings
type HTTPConfig struct {
	AllowedOrigins []string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables the queue trigger and event publishing.
type RabbitMQConfig struct {
	URL                 string
	AggregateExchange   string
	AggregateQueue      string
	AggregateRoutingKey string
	EventsExchange      string
	EventsRoutingKey    string
	DLQQueue            string
	PrefetchCount       int
}

// Enabled reports whether a broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	driver := strings.ToLower(getEnv("DATABASE_DRIVER", DriverPostgres))

	defaultURL := ""
	if driver == DriverSQLite {
		defaultURL = "leituras.db"
	}

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "sensor-rollup"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		TimeZone:    getEnv("TIME_ZONE", "UTC"),
		Database: DatabaseConfig{
			Driver:      driver,
			URL:         getEnv("DATABASE_URL", defaultURL),
			AutoMigrate: getEnvAsBool("DATABASE_AUTO_MIGRATE", true),
		},
		Rollup: RollupConfig{
			Strategy: strings.ToLower(getEnv("AGGREGATION_STRATEGY", StrategyBulk)),
		},
		Dashboard: DashboardConfig{
			PageSize:       getEnvAsInt("DASHBOARD_PAGE_SIZE", 24),
			ChartMaxPoints: getEnvAsInt("CHART_MAX_POINTS", 50),
		},
		HTTP: HTTPConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			AggregateExchange:   getEnv("RABBITMQ_AGGREGATE_EXCHANGE", "sensor-rollup.aggregate.exchange"),
			AggregateQueue:      getEnv("RABBITMQ_AGGREGATE_QUEUE", "sensor-rollup.aggregate.queue"),
			AggregateRoutingKey: getEnv("RABBITMQ_AGGREGATE_ROUTING_KEY", "rollup.run.requested"),
			EventsExchange:      getEnv("RABBITMQ_EVENTS_EXCHANGE", "sensor-rollup.events.exchange"),
			EventsRoutingKey:    getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "rollup.run.completed"),
			DLQQueue:            getEnv("RABBITMQ_DLQ_QUEUE", "sensor-rollup.aggregate.dlq"),
			PrefetchCount:       getEnvAsInt("RABBITMQ_PREFETCH", 1),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER %q is not supported: expected %s or %s",
			c.Database.Driver, DriverPostgres, DriverSQLite)
	}

	switch c.Rollup.Strategy {
	case StrategyBulk, StrategyLoop:
	default:
		return fmt.Errorf("AGGREGATION_STRATEGY %q is not supported: expected %s or %s",
			c.Rollup.Strategy, StrategyBulk, StrategyLoop)
	}

	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("TIME_ZONE %q is invalid: %w", c.TimeZone, err)
	}
	c.Location = loc

	if c.Dashboard.PageSize <= 0 {
		return fmt.Errorf("DASHBOARD_PAGE_SIZE must be positive, got %d", c.Dashboard.PageSize)
	}
	if c.Dashboard.ChartMaxPoints <= 0 {
		return fmt.Errorf("CHART_MAX_POINTS must be positive, got %d", c.Dashboard.ChartMaxPoints)
	}

	return nil
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
