// Package config loads and validates the sync engine configuration from
// defaults, an optional YAML file, and environment variables, in that
// order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment names the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config holds all configuration of the sync engine.
type Config struct {
	Environment Environment `yaml:"environment"`

	Server        ServerConfig        `yaml:"server"`
	Remote        RemoteConfig        `yaml:"remote"`
	Auth          AuthConfig          `yaml:"auth"`
	Retry         RetryConfig         `yaml:"retry"`
	Cache         CacheConfig         `yaml:"cache"`
	Invalidation  InvalidationConfig  `yaml:"invalidation"`
	Realtime      RealtimeConfig      `yaml:"realtime"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig configures the local debug/ops HTTP listener.
type ServerConfig struct {
	Address        string        `yaml:"address"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// RemoteConfig configures the backend the engine syncs against.
type RemoteConfig struct {
	SupabaseURL    string        `yaml:"supabase_url"`
	SupabaseKey    string        `yaml:"supabase_key"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Circuit breaker thresholds, applied around the whole remote surface.
	BreakerMaxRequests uint32        `yaml:"breaker_max_requests"`
	BreakerInterval    time.Duration `yaml:"breaker_interval"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout"`
	BreakerMinRequests uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRate float64       `yaml:"breaker_failure_rate"`
}

// AuthConfig configures session handling.
type AuthConfig struct {
	// RefreshMargin is how long before token expiry a refresh starts.
	RefreshMargin time.Duration `yaml:"refresh_margin"`
}

// RetryConfig configures the retry engine. Delay for attempt n is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	// StaleTime is how long a fetched entry serves without a background
	// refresh. Zero keeps entries fresh until invalidated.
	StaleTime time.Duration `yaml:"stale_time"`
}

// InvalidationConfig configures the debounced aggregate invalidator.
type InvalidationConfig struct {
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// RealtimeConfig configures the websocket change feed.
type RealtimeConfig struct {
	Enabled           bool          `yaml:"enabled"`
	URL               string        `yaml:"url"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ReconnectBaseWait time.Duration `yaml:"reconnect_base_wait"`
	ReconnectMaxWait  time.Duration `yaml:"reconnect_max_wait"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	MetricsNamespace string `yaml:"metrics_namespace"`
	TracingEnabled   bool   `yaml:"tracing_enabled"`
	TracingEndpoint  string `yaml:"tracing_endpoint"`
}

// Default returns the built-in configuration. Retry and invalidation
// defaults match what the web client shipped with, so cached behavior
// stays identical across surfaces.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Address:        ":8745",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
		Remote: RemoteConfig{
			RequestTimeout:     30 * time.Second,
			BreakerMaxRequests: 3,
			BreakerInterval:    60 * time.Second,
			BreakerTimeout:     30 * time.Second,
			BreakerMinRequests: 10,
			BreakerFailureRate: 0.6,
		},
		Auth: AuthConfig{
			RefreshMargin: 60 * time.Second,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      1000 * time.Millisecond,
			MaxDelay:       30000 * time.Millisecond,
			Multiplier:     2.0,
			AttemptTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			StaleTime: 5 * time.Minute,
		},
		Invalidation: InvalidationConfig{
			DebounceInterval: 500 * time.Millisecond,
		},
		Realtime: RealtimeConfig{
			Enabled:           false,
			PingInterval:      30 * time.Second,
			ReconnectBaseWait: time.Second,
			ReconnectMaxWait:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			MetricsNamespace: "newsletterhub_sync",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// SYNC_CONFIG_FILE (if any), then environment variables on top.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables, the highest-priority source.
func (c *Config) applyEnv() {
	c.Environment = Environment(getEnv("ENVIRONMENT", string(c.Environment)))

	c.Server.Address = getEnv("SERVER_ADDRESS", c.Server.Address)

	c.Remote.SupabaseURL = getEnv("SUPABASE_URL", c.Remote.SupabaseURL)
	c.Remote.SupabaseKey = getEnv("SUPABASE_ANON_KEY", c.Remote.SupabaseKey)
	c.Remote.RequestTimeout = getEnvDuration("REMOTE_REQUEST_TIMEOUT", c.Remote.RequestTimeout)

	c.Retry.MaxRetries = getEnvInt("RETRY_MAX_RETRIES", c.Retry.MaxRetries)
	c.Retry.BaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.Retry.BaseDelay)
	c.Retry.MaxDelay = getEnvDuration("RETRY_MAX_DELAY", c.Retry.MaxDelay)
	c.Retry.Multiplier = getEnvFloat("RETRY_MULTIPLIER", c.Retry.Multiplier)
	c.Retry.AttemptTimeout = getEnvDuration("RETRY_ATTEMPT_TIMEOUT", c.Retry.AttemptTimeout)

	c.Cache.StaleTime = getEnvDuration("CACHE_STALE_TIME", c.Cache.StaleTime)
	c.Invalidation.DebounceInterval = getEnvDuration("INVALIDATION_DEBOUNCE", c.Invalidation.DebounceInterval)

	c.Realtime.Enabled = getEnvBool("REALTIME_ENABLED", c.Realtime.Enabled)
	c.Realtime.URL = getEnv("REALTIME_URL", c.Realtime.URL)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)

	c.Observability.TracingEnabled = getEnvBool("ENABLE_TRACING", c.Observability.TracingEnabled)
	c.Observability.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.Observability.TracingEndpoint)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be below retry.base_delay")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Retry.AttemptTimeout <= 0 {
		return fmt.Errorf("retry.attempt_timeout must be positive")
	}
	if c.Invalidation.DebounceInterval < 0 {
		return fmt.Errorf("invalidation.debounce_interval must not be negative")
	}
	if c.IsProduction() {
		if c.Remote.SupabaseURL == "" {
			return fmt.Errorf("SUPABASE_URL is required in production")
		}
		if c.Remote.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_ANON_KEY is required in production")
		}
	}
	return nil
}

// IsDevelopment reports whether the engine runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction reports whether the engine runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
