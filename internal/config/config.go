package config

import (
	"fmt"

	"github.com/alekslucenko/planit-analytics/internal/cache"
	"github.com/alekslucenko/planit-analytics/internal/docstore"
	"github.com/alekslucenko/planit-analytics/internal/domain"
)

// Store backends.
const (
	BackendMemory        = "memory"
	BackendElasticsearch = "elasticsearch"
)

// Default configuration values.
const (
	defaultServiceName  = "planit-analytics"
	defaultServicePort  = 8094
	defaultVersion      = "0.1.0"
	defaultLoggingLevel = "info"
	defaultLoggingFmt   = "json"
	defaultTimeframe    = string(domain.TimeframeThisWeek)
	defaultBackend      = BackendElasticsearch
)

// Config holds the application configuration.
type Config struct {
	Service       ServiceConfig          `yaml:"service"`
	Aggregation   AggregationConfig      `yaml:"aggregation"`
	Elasticsearch docstore.ElasticConfig `yaml:"elasticsearch"`
	Redis         RedisConfig            `yaml:"redis"`
	Auth          AuthConfig             `yaml:"auth"`
	Logging       LoggingConfig          `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"ANALYTICS_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"      yaml:"debug"`
}

// AggregationConfig selects the owner and store backend the pipeline
// runs against.
type AggregationConfig struct {
	// OwnerID is the venue owner whose dashboard this instance serves.
	OwnerID string `env:"ANALYTICS_OWNER_ID" yaml:"owner_id"`
	// DefaultTimeframe is the timeframe active at startup.
	DefaultTimeframe string `env:"ANALYTICS_TIMEFRAME" yaml:"default_timeframe"`
	// Backend is "elasticsearch" or "memory".
	Backend string `env:"ANALYTICS_BACKEND" yaml:"backend"`
}

// RedisConfig holds the optional snapshot cache configuration.
type RedisConfig struct {
	Enabled bool `env:"REDIS_ENABLED" yaml:"enabled"`
	cache.Config `yaml:",inline"`
}

// AuthConfig holds dashboard API authentication configuration.
type AuthConfig struct {
	// JWTSecret signs and verifies dashboard tokens. Required unless
	// debug mode disables auth.
	JWTSecret string `env:"JWT_SECRET" yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL"  yaml:"level"`
	Format string `env:"LOG_FORMAT" yaml:"format"`
}

// Load loads configuration from the specified path.
func Load(path string) (*Config, error) {
	return load(path, setDefaults)
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = defaultVersion
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = defaultServicePort
	}
	if cfg.Aggregation.DefaultTimeframe == "" {
		cfg.Aggregation.DefaultTimeframe = defaultTimeframe
	}
	if cfg.Aggregation.Backend == "" {
		cfg.Aggregation.Backend = defaultBackend
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLoggingLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaultLoggingFmt
	}
	cfg.Elasticsearch.SetDefaults()
	cfg.Redis.SetDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port: must be between 1 and 65535")
	}
	if c.Aggregation.OwnerID == "" {
		return fmt.Errorf("aggregation.owner_id: is required")
	}
	if _, err := domain.ParseTimeframe(c.Aggregation.DefaultTimeframe); err != nil {
		return fmt.Errorf("aggregation.default_timeframe: %w", err)
	}
	if c.Aggregation.Backend != BackendMemory && c.Aggregation.Backend != BackendElasticsearch {
		return fmt.Errorf("aggregation.backend: must be %q or %q", BackendMemory, BackendElasticsearch)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address: is required when redis is enabled")
	}
	if c.Auth.JWTSecret == "" && !c.Service.Debug {
		return fmt.Errorf("auth.jwt_secret: is required outside debug mode")
	}
	return nil
}
