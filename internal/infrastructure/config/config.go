package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Ember Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Home     HomeConfig     `yaml:"home"`
	Platform PlatformConfig `yaml:"platform"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Graph    GraphConfig    `yaml:"graph"`
	Engine   EngineConfig   `yaml:"engine"`
	Rollout  RolloutConfig  `yaml:"rollout"`
}

// HomeConfig identifies the home this core instance controls.
type HomeConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// PlatformConfig contains connection settings for the remote device platform.
type PlatformConfig struct {
	BaseURL   string                  `yaml:"base_url"`
	Token     string                  `yaml:"token"`
	Timeout   int                     `yaml:"timeout"` // seconds, per REST request
	WebSocket PlatformWebSocketConfig `yaml:"websocket"`
}

// PlatformWebSocketConfig contains event-stream connection settings.
type PlatformWebSocketConfig struct {
	URL          string                  `yaml:"url"`
	PingInterval int                     `yaml:"ping_interval"` // seconds
	Reconnect    PlatformReconnectConfig `yaml:"reconnect"`
}

// PlatformReconnectConfig contains event-stream reconnection settings.
type PlatformReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"` // seconds
	MaxDelay     int `yaml:"max_delay"`     // seconds
	MaxAttempts  int `yaml:"max_attempts"`  // 0 = unlimited
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings for the event fan-out bus.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for execution metrics.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// GraphConfig contains capability graph settings.
type GraphConfig struct {
	RefreshInterval int `yaml:"refresh_interval"` // seconds, background snapshot refresh
	ServiceTTL      int `yaml:"service_ttl"`      // seconds, service catalog cache lifetime
}

// EngineConfig contains execution engine settings.
type EngineConfig struct {
	MaxRetries          int           `yaml:"max_retries"`
	RetryInitialDelay   int           `yaml:"retry_initial_delay"`  // milliseconds
	RetryMaxDelay       int           `yaml:"retry_max_delay"`      // milliseconds
	IdempotencyTTL      int           `yaml:"idempotency_ttl"`      // seconds
	ConfirmationTimeout int           `yaml:"confirmation_timeout"` // seconds, base wait scaled by risk
	MaxParallel         int           `yaml:"max_parallel"`         // concurrent actions in parallel mode
	Breaker             BreakerConfig `yaml:"breaker"`
}

// BreakerConfig contains circuit breaker thresholds for remote platform calls.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	Timeout          int `yaml:"timeout"` // seconds before half-open re-entry
}

// RolloutConfig contains canary and rollback settings.
type RolloutConfig struct {
	MinExecutions     int     `yaml:"min_executions"`
	MaxErrorRate      float64 `yaml:"max_error_rate"` // 0.0-1.0
	MaxAvgLatencyMS   float64 `yaml:"max_avg_latency_ms"`
	ErrorBudget       int     `yaml:"error_budget"`
	ErrorBudgetWindow int     `yaml:"error_budget_window"` // seconds, sliding window
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: EMBER_SECTION_KEY
// For example: EMBER_DATABASE_PATH, EMBER_PLATFORM_TOKEN
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Home: HomeConfig{
			ID:       "home-001",
			Name:     "Ember Home",
			Timezone: "UTC",
		},
		Platform: PlatformConfig{
			BaseURL: "http://localhost:8123",
			Timeout: 10,
			WebSocket: PlatformWebSocketConfig{
				URL:          "ws://localhost:8123/api/websocket",
				PingInterval: 30,
				Reconnect: PlatformReconnectConfig{
					InitialDelay: 1,
					MaxDelay:     60,
					MaxAttempts:  10,
				},
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/embercore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ember-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Graph: GraphConfig{
			RefreshInterval: 300,
			ServiceTTL:      600,
		},
		Engine: EngineConfig{
			MaxRetries:          3,
			RetryInitialDelay:   500,
			RetryMaxDelay:       10000,
			IdempotencyTTL:      300,
			ConfirmationTimeout: 10,
			MaxParallel:         4,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30,
			},
		},
		Rollout: RolloutConfig{
			MinExecutions:     10,
			MaxErrorRate:      0.1,
			MaxAvgLatencyMS:   5000,
			ErrorBudget:       5,
			ErrorBudgetWindow: 3600,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: EMBER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Platform
	if v := os.Getenv("EMBER_PLATFORM_URL"); v != "" {
		cfg.Platform.BaseURL = v
	}
	if v := os.Getenv("EMBER_PLATFORM_TOKEN"); v != "" {
		cfg.Platform.Token = v
	}
	if v := os.Getenv("EMBER_PLATFORM_WS_URL"); v != "" {
		cfg.Platform.WebSocket.URL = v
	}

	// Database
	if v := os.Getenv("EMBER_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("EMBER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("EMBER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("EMBER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("EMBER_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Home validation
	if c.Home.ID == "" {
		errs = append(errs, "home.id is required")
	}

	// Platform validation - the token is the credential for every remote
	// call and for the event-stream auth handshake.
	if c.Platform.BaseURL == "" {
		errs = append(errs, "platform.base_url is required")
	}
	if c.Platform.Token == "" {
		errs = append(errs, "platform.token is required (set EMBER_PLATFORM_TOKEN environment variable)")
	}
	if c.Platform.Timeout < 1 {
		errs = append(errs, "platform.timeout must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Engine validation
	if c.Engine.MaxRetries < 0 {
		errs = append(errs, "engine.max_retries must not be negative")
	}
	if c.Engine.Breaker.FailureThreshold < 1 {
		errs = append(errs, "engine.breaker.failure_threshold must be at least 1")
	}
	if c.Engine.Breaker.SuccessThreshold < 1 {
		errs = append(errs, "engine.breaker.success_threshold must be at least 1")
	}
	if c.Engine.MaxParallel < 1 {
		errs = append(errs, "engine.max_parallel must be at least 1")
	}

	// Rollout validation
	if c.Rollout.MaxErrorRate < 0 || c.Rollout.MaxErrorRate > 1 {
		errs = append(errs, "rollout.max_error_rate must be between 0.0 and 1.0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPlatformTimeout returns the REST request timeout as a Duration.
func (c *Config) GetPlatformTimeout() time.Duration {
	return time.Duration(c.Platform.Timeout) * time.Second
}

// GetGraphRefreshInterval returns the background refresh interval as a Duration.
func (c *Config) GetGraphRefreshInterval() time.Duration {
	return time.Duration(c.Graph.RefreshInterval) * time.Second
}

// GetServiceTTL returns the service catalog cache lifetime as a Duration.
func (c *Config) GetServiceTTL() time.Duration {
	return time.Duration(c.Graph.ServiceTTL) * time.Second
}
