package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err == nil {
		d.Duration = parsed
		return nil
	}
	secs, convErr := time.ParseDuration(raw + "s")
	if convErr == nil {
		d.Duration = secs
		return nil
	}
	return fmt.Errorf("invalid duration value %q: %w", raw, err)
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Razorpay       RazorpayConfig       `yaml:"razorpay"`
	Storage        StorageConfig        `yaml:"storage"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	ShutdownTimeout    Duration `yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g. "/payments")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Bearer key protecting /metrics; empty leaves it open
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// RazorpayConfig holds the payment processor credentials.
// KeySecret and WebhookSecret are never logged or returned to clients.
type RazorpayConfig struct {
	KeyID           string   `yaml:"key_id"`
	KeySecret       string   `yaml:"key_secret"`
	WebhookSecret   string   `yaml:"webhook_secret"`
	APIBaseURL      string   `yaml:"api_base_url"`
	DefaultCurrency string   `yaml:"default_currency"`
	Timeout         Duration `yaml:"timeout"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // default: 25
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // default: 5
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // default: 5m
}

// StorageConfig selects where orders and verified payments are kept.
type StorageConfig struct {
	Backend         string             `yaml:"backend"` // "memory", "postgres" or "mongodb"
	PostgresURL     string             `yaml:"postgres_url"`
	MongoDBURL      string             `yaml:"mongodb_url"`
	MongoDBDatabase string             `yaml:"mongodb_database"`
	PostgresPool    PostgresPoolConfig `yaml:"postgres_pool"`
	OrdersTable     string             `yaml:"orders_table"`   // default: "orders"
	PaymentsTable   string             `yaml:"payments_table"` // default: "payments"
}

// CallbacksConfig holds outbound payment callback configuration.
type CallbacksConfig struct {
	PaymentSuccessURL string            `yaml:"payment_success_url"`
	Headers           map[string]string `yaml:"headers"`
	BodyTemplate      string            `yaml:"body_template"`
	Timeout           Duration          `yaml:"timeout"`
	Retry             RetryConfig       `yaml:"retry"`
	DLQEnabled        bool              `yaml:"dlq_enabled"`
	DLQPath           string            `yaml:"dlq_path"` // default: ./data/callback-dlq.json
}

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds request rate limits.
type RateLimitConfig struct {
	GlobalEnabled bool     `yaml:"global_enabled"`
	GlobalLimit   int      `yaml:"global_limit"`
	GlobalWindow  Duration `yaml:"global_window"`

	PerIPEnabled bool     `yaml:"per_ip_enabled"`
	PerIPLimit   int      `yaml:"per_ip_limit"`
	PerIPWindow  Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker settings for outbound dependencies.
type CircuitBreakerConfig struct {
	Enabled     bool                 `yaml:"enabled"`
	RazorpayAPI BreakerServiceConfig `yaml:"razorpay_api"`
	Callback    BreakerServiceConfig `yaml:"callback"`
}

// BreakerServiceConfig configures a circuit breaker for one dependency.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // requests allowed while half-open
	Interval            Duration `yaml:"interval"`             // closed-state count reset interval
	Timeout             Duration `yaml:"timeout"`              // open-state duration before half-open
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // consecutive failures to trip
	FailureRatio        float64  `yaml:"failure_ratio"`        // 0.0-1.0
	MinRequests         uint32   `yaml:"min_requests"`         // requests before the ratio applies
}
