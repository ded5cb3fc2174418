package config

import (
	"net/textproto"
	"os"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// Razorpay credentials use the processor's conventional RAZORPAY_ names;
// everything else is namespaced under PAYSERVER_.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "PAYSERVER_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "PAYSERVER_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "PAYSERVER_ADMIN_METRICS_API_KEY")
	setListIfEnv(&c.Server.CORSAllowedOrigins, "PAYSERVER_CORS_ALLOWED_ORIGINS")

	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging
	setIfEnv(&c.Logging.Level, "PAYSERVER_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "PAYSERVER_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "PAYSERVER_ENVIRONMENT")

	// Razorpay
	setIfEnv(&c.Razorpay.KeyID, "RAZORPAY_KEY_ID")
	setIfEnv(&c.Razorpay.KeySecret, "RAZORPAY_KEY_SECRET")
	setIfEnv(&c.Razorpay.WebhookSecret, "RAZORPAY_WEBHOOK_SECRET")
	setIfEnv(&c.Razorpay.APIBaseURL, "RAZORPAY_API_BASE_URL")
	setIfEnv(&c.Razorpay.DefaultCurrency, "RAZORPAY_DEFAULT_CURRENCY")
	setDurationIfEnv(&c.Razorpay.Timeout, "RAZORPAY_TIMEOUT")

	// Storage
	setIfEnv(&c.Storage.Backend, "PAYSERVER_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "PAYSERVER_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "PAYSERVER_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "PAYSERVER_MONGODB_DATABASE")

	// Callbacks
	setIfEnv(&c.Callbacks.PaymentSuccessURL, "CALLBACK_PAYMENT_SUCCESS_URL")
	setDurationIfEnv(&c.Callbacks.Timeout, "CALLBACK_TIMEOUT")
	setBoolIfEnv(&c.Callbacks.DLQEnabled, "CALLBACK_DLQ_ENABLED")
	setIfEnv(&c.Callbacks.DLQPath, "CALLBACK_DLQ_PATH")
	for name, value := range envWithPrefix("CALLBACK_HEADER_") {
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = value
	}

	// Rate limits
	setBoolIfEnv(&c.RateLimit.GlobalEnabled, "PAYSERVER_RATE_LIMIT_GLOBAL_ENABLED")
	setBoolIfEnv(&c.RateLimit.PerIPEnabled, "PAYSERVER_RATE_LIMIT_PER_IP_ENABLED")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1" and any casing of "true" as true.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable such as "5m" or "120s".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// setListIfEnv sets a string slice from a comma separated environment variable.
func setListIfEnv(target *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*target = out
}

// envWithPrefix returns environment variables starting with prefix, keyed by the remainder.
func envWithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		out[name] = parts[1]
	}
	return out
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api".
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
