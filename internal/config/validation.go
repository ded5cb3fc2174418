package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeout.Duration <= 0 {
		c.Server.ShutdownTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	c.Razorpay.KeyID = strings.TrimSpace(c.Razorpay.KeyID)
	c.Razorpay.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.Razorpay.DefaultCurrency))
	if c.Razorpay.DefaultCurrency == "" {
		c.Razorpay.DefaultCurrency = "INR"
	}
	if c.Razorpay.Timeout.Duration <= 0 {
		c.Razorpay.Timeout = Duration{Duration: 10 * time.Second}
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.OrdersTable == "" {
		c.Storage.OrdersTable = "orders"
	}
	if c.Storage.PaymentsTable == "" {
		c.Storage.PaymentsTable = "payments"
	}
	if c.Storage.MongoDBDatabase == "" {
		c.Storage.MongoDBDatabase = "payserver"
	}

	if c.Callbacks.Timeout.Duration <= 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}
	if c.Callbacks.Retry.MaxAttempts <= 0 {
		c.Callbacks.Retry.MaxAttempts = 5
	}
	if c.Callbacks.Retry.Multiplier < 1 {
		c.Callbacks.Retry.Multiplier = 2.0
	}
	if c.Callbacks.DLQPath == "" {
		c.Callbacks.DLQPath = "./data/callback-dlq.json"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
// A missing key secret is fatal: the server never falls back to a built-in secret.
func (c *Config) validate() error {
	var errs []string

	if c.Razorpay.KeyID == "" {
		errs = append(errs, "razorpay.key_id is required (RAZORPAY_KEY_ID)")
	}
	if c.Razorpay.KeySecret == "" {
		errs = append(errs, "razorpay.key_secret is required (RAZORPAY_KEY_SECRET)")
	}
	if len(c.Razorpay.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Sprintf("razorpay.default_currency %q must be a 3-letter ISO code", c.Razorpay.DefaultCurrency))
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when storage.backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (memory, postgres, mongodb)", c.Storage.Backend))
	}

	if c.RateLimit.GlobalEnabled && c.RateLimit.GlobalLimit <= 0 {
		errs = append(errs, "rate_limit.global_limit must be positive when global limiting is enabled")
	}
	if c.RateLimit.PerIPEnabled && c.RateLimit.PerIPLimit <= 0 {
		errs = append(errs, "rate_limit.per_ip_limit must be positive when per-IP limiting is enabled")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection,
// falling back to defaults for unset values.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
