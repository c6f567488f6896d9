/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Event bus backend selection.
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
	EventBusNATS   = "nats"
)

// Config covers process level configuration. Values come from defaults, then the
// optional YAML file named by OTT_CONFIG_FILE, then environment variables.
type Config struct {
	Environment string          `yaml:"environment"`
	HTTPBind    string          `yaml:"http_bind"`
	HTTPPort    int             `yaml:"http_port"`
	MetricsBind string          `yaml:"metrics_bind"`
	DBBackend   DatabaseBackend `yaml:"db_backend"`
	DBDSN       string          `yaml:"db_dsn"`

	JWTSigningKey string `yaml:"jwt_signing_key"`

	// Remote live video platform
	GatewayBaseURL        string `yaml:"gateway_base_url"`
	GatewayTokenID        string `yaml:"gateway_token_id"`
	GatewayTokenSecret    string `yaml:"gateway_token_secret"`
	GatewayTimeoutSeconds int    `yaml:"gateway_timeout_seconds"`

	// Inbound webhooks
	WebhookSecret           string `yaml:"webhook_secret"`
	WebhookToleranceSeconds int    `yaml:"webhook_tolerance_seconds"`

	// Lifecycle engine
	SweepIntervalSeconds          int `yaml:"sweep_interval_seconds"`
	DefaultReconnectWindowSeconds int `yaml:"default_reconnect_window_seconds"`
	StoreMaxAttempts              int `yaml:"store_max_attempts"`

	// Event fanout
	EventBus string `yaml:"event_bus"`
	NATSURL  string `yaml:"nats_url"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`

	// Multi-instance configuration
	LeaderElectionEnabled bool   `yaml:"leader_election_enabled"`
	RedisAddr             string `yaml:"redis_addr"`
	RedisPassword         string `yaml:"redis_password"`
	RedisDB               int    `yaml:"redis_db"`
	InstanceID            string `yaml:"instance_id"`

	ConfigFile        string   `yaml:"-"`
	LegacyEnvWarnings []string `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		Environment:                   "development",
		HTTPBind:                      "0.0.0.0",
		HTTPPort:                      8080,
		MetricsBind:                   "127.0.0.1:9000",
		DBBackend:                     DatabasePostgres,
		GatewayBaseURL:                "https://api.mux.com",
		GatewayTimeoutSeconds:         10,
		WebhookToleranceSeconds:       300,
		SweepIntervalSeconds:          60,
		DefaultReconnectWindowSeconds: 60,
		StoreMaxAttempts:              3,
		EventBus:                      EventBusMemory,
		NATSURL:                       "nats://localhost:4222",
		OTLPEndpoint:                  "localhost:4317",
		TracingSampleRate:             1.0,
		RedisAddr:                     "localhost:6379",
	}
}

// Load reads configuration, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("OTT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.ConfigFile = path
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnvAny([]string{"OTT_ENV"}, c.Environment)
	c.HTTPBind = getEnvAny([]string{"OTT_HTTP_BIND"}, c.HTTPBind)
	c.HTTPPort = getEnvIntAny([]string{"OTT_HTTP_PORT", "PORT"}, c.HTTPPort)
	c.MetricsBind = getEnvAny([]string{"OTT_METRICS_BIND"}, c.MetricsBind)
	c.DBBackend = DatabaseBackend(getEnvAny([]string{"OTT_DB_BACKEND"}, string(c.DBBackend)))
	c.DBDSN = getEnvAny([]string{"OTT_DB_DSN", "DATABASE_URL"}, c.DBDSN)
	c.JWTSigningKey = getEnvAny([]string{"OTT_JWT_SIGNING_KEY"}, c.JWTSigningKey)

	c.GatewayBaseURL = getEnvAny([]string{"OTT_GATEWAY_BASE_URL"}, c.GatewayBaseURL)
	c.GatewayTokenID = getEnvAny([]string{"OTT_GATEWAY_TOKEN_ID"}, c.GatewayTokenID)
	c.GatewayTokenSecret = getEnvAny([]string{"OTT_GATEWAY_TOKEN_SECRET"}, c.GatewayTokenSecret)
	c.GatewayTimeoutSeconds = getEnvIntAny([]string{"OTT_GATEWAY_TIMEOUT_SECONDS"}, c.GatewayTimeoutSeconds)

	c.WebhookSecret = getEnvAny([]string{"OTT_WEBHOOK_SECRET"}, c.WebhookSecret)
	c.WebhookToleranceSeconds = getEnvIntAny([]string{"OTT_WEBHOOK_TOLERANCE_SECONDS"}, c.WebhookToleranceSeconds)

	c.SweepIntervalSeconds = getEnvIntAny([]string{"OTT_SWEEP_INTERVAL_SECONDS"}, c.SweepIntervalSeconds)
	c.DefaultReconnectWindowSeconds = getEnvIntAny([]string{"OTT_DEFAULT_RECONNECT_WINDOW_SECONDS"}, c.DefaultReconnectWindowSeconds)
	c.StoreMaxAttempts = getEnvIntAny([]string{"OTT_STORE_MAX_ATTEMPTS"}, c.StoreMaxAttempts)

	c.EventBus = strings.ToLower(getEnvAny([]string{"OTT_EVENT_BUS"}, c.EventBus))
	c.NATSURL = getEnvAny([]string{"OTT_NATS_URL"}, c.NATSURL)

	c.TracingEnabled = getEnvBoolAny([]string{"OTT_TRACING_ENABLED"}, c.TracingEnabled)
	c.OTLPEndpoint = getEnvAny([]string{"OTT_OTLP_ENDPOINT"}, c.OTLPEndpoint)
	c.TracingSampleRate = getEnvFloatAny([]string{"OTT_TRACING_SAMPLE_RATE"}, c.TracingSampleRate)

	c.LeaderElectionEnabled = getEnvBoolAny([]string{"OTT_LEADER_ELECTION_ENABLED"}, c.LeaderElectionEnabled)
	c.RedisAddr = getEnvAny([]string{"OTT_REDIS_ADDR"}, c.RedisAddr)
	c.RedisPassword = getEnvAny([]string{"OTT_REDIS_PASSWORD"}, c.RedisPassword)
	c.RedisDB = getEnvIntAny([]string{"OTT_REDIS_DB"}, c.RedisDB)
	c.InstanceID = getEnvAny([]string{"OTT_INSTANCE_ID"}, c.InstanceID)
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("OTT_DB_DSN must be provided")
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("OTT_JWT_SIGNING_KEY must be provided")
	}
	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}
	if c.DefaultReconnectWindowSeconds < 0 {
		return fmt.Errorf("OTT_DEFAULT_RECONNECT_WINDOW_SECONDS must not be negative")
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("OTT_SWEEP_INTERVAL_SECONDS must be positive")
	}

	if c.IsProduction() {
		if c.GatewayTokenID == "" || c.GatewayTokenSecret == "" {
			return fmt.Errorf("OTT_GATEWAY_TOKEN_ID and OTT_GATEWAY_TOKEN_SECRET are required in production")
		}
		if c.WebhookSecret == "" {
			return fmt.Errorf("OTT_WEBHOOK_SECRET is required in production")
		}
	}
	return nil
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// GatewayTimeout returns the per-call deadline for the remote platform.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// SweepInterval returns how often the disconnect monitor runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// WebhookTolerance returns the accepted signature timestamp drift.
func (c *Config) WebhookTolerance() time.Duration {
	return time.Duration(c.WebhookToleranceSeconds) * time.Second
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"MUX_TOKEN_ID":       "use OTT_GATEWAY_TOKEN_ID",
		"MUX_TOKEN_SECRET":   "use OTT_GATEWAY_TOKEN_SECRET",
		"MUX_WEBHOOK_SECRET": "use OTT_WEBHOOK_SECRET",
		"JWT_SIGNING_KEY":    "use OTT_JWT_SIGNING_KEY",
		"REDIS_URL":          "use OTT_REDIS_ADDR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
