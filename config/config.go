// Package config loads hub configuration from the environment, with an
// ARINOVA_-prefixed primary variable and a bare fallback for each
// setting.
package config

import (
	"time"

	"github.com/arinova/hubd/internal/envutil"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Otel     OtelConfig
	Billing  BillingConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	AllowedOrigins   []string
	AllowEmptyOrigin bool
	AgentAuthTimeout time.Duration
	StreamIdleTimeout time.Duration
	HeartbeatDeadline time.Duration
	OutboundQueueSize int
}

type DatabaseConfig struct {
	URL string
}

type RedisConfig struct {
	URL string
}

type OtelConfig struct {
	Endpoint    string
	Environment string
}

type BillingConfig struct {
	// CreatorShareNumerator/Denominator make the 70% creator split
	// configurable without touching the deduction transaction's SQL.
	CreatorShareNumerator   int64
	CreatorShareDenominator int64
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              envutil.GetEnvWithFallback("ARINOVA_SERVER_HOST", "HOST", "0.0.0.0"),
			Port:              envutil.GetEnvIntWithFallback("ARINOVA_SERVER_PORT", "PORT", 8080),
			AllowedOrigins:    envutil.GetEnvSliceWithFallback("ARINOVA_ALLOWED_ORIGINS", "ALLOWED_ORIGINS", []string{"*"}),
			AllowEmptyOrigin:  envutil.GetEnvBoolWithFallback("ARINOVA_ALLOW_EMPTY_ORIGIN", "ALLOW_EMPTY_ORIGIN", false),
			AgentAuthTimeout:  envutil.GetEnvDurationWithFallback("ARINOVA_AGENT_AUTH_TIMEOUT", "AGENT_AUTH_TIMEOUT", 10*time.Second),
			StreamIdleTimeout: envutil.GetEnvDurationWithFallback("ARINOVA_STREAM_IDLE_TIMEOUT", "STREAM_IDLE_TIMEOUT", 600*time.Second),
			HeartbeatDeadline: envutil.GetEnvDurationWithFallback("ARINOVA_HEARTBEAT_DEADLINE", "HEARTBEAT_DEADLINE", 45*time.Second),
			OutboundQueueSize: envutil.GetEnvIntWithFallback("ARINOVA_OUTBOUND_QUEUE_SIZE", "OUTBOUND_QUEUE_SIZE", 256),
		},
		Database: DatabaseConfig{
			URL: envutil.GetEnvWithFallback("ARINOVA_POSTGRES_URL", "DATABASE_URL", "postgres://localhost:5432/hubd?sslmode=disable"),
		},
		Redis: RedisConfig{
			URL: envutil.GetEnvWithFallback("ARINOVA_REDIS_URL", "REDIS_URL", "redis://localhost:6379/0"),
		},
		Otel: OtelConfig{
			Endpoint:    envutil.GetEnvWithFallback("ARINOVA_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: envutil.GetEnvWithFallback("ARINOVA_ENVIRONMENT", "ENVIRONMENT", "development"),
		},
		Billing: BillingConfig{
			CreatorShareNumerator:   int64(envutil.GetEnvIntWithFallback("ARINOVA_CREATOR_SHARE_NUM", "CREATOR_SHARE_NUM", 7)),
			CreatorShareDenominator: int64(envutil.GetEnvIntWithFallback("ARINOVA_CREATOR_SHARE_DEN", "CREATOR_SHARE_DEN", 10)),
		},
	}
}
