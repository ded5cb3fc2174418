package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/portfoliodash/payserver/internal/config"
	apierrors "github.com/portfoliodash/payserver/internal/errors"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/metrics"
)

// Limit types reported in metrics and logs.
const (
	LimitGlobal = "global"
	LimitPerIP  = "per_ip"
)

// Config holds rate limiting configuration.
type Config struct {
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// DefaultConfig returns limits generous enough for checkout traffic.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   60,
		PerIPWindow:  time.Minute,
	}
}

// FromConfig converts the file/env configuration.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled: cfg.GlobalEnabled,
		GlobalLimit:   cfg.GlobalLimit,
		GlobalWindow:  cfg.GlobalWindow.Duration,
		PerIPEnabled:  cfg.PerIPEnabled,
		PerIPLimit:    cfg.PerIPLimit,
		PerIPWindow:   cfg.PerIPWindow.Duration,
		Metrics:       m,
	}
}

// GlobalLimiter caps total request volume across all clients.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled || cfg.GlobalLimit <= 0 {
		return passthrough
	}
	window := windowOrDefault(cfg.GlobalWindow)
	return httprate.Limit(
		cfg.GlobalLimit,
		window,
		httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
		httprate.WithLimitHandler(limitExceeded(LimitGlobal, window, cfg.Metrics)),
	)
}

// IPLimiter caps request volume per client IP.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled || cfg.PerIPLimit <= 0 {
		return passthrough
	}
	window := windowOrDefault(cfg.PerIPWindow)
	return httprate.Limit(
		cfg.PerIPLimit,
		window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(limitExceeded(LimitPerIP, window, cfg.Metrics)),
	)
}

// limitExceeded writes the shared error envelope with a Retry-After hint.
func limitExceeded(limitType string, window time.Duration, m *metrics.Metrics) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		m.ObserveRateLimit(limitType)
		log := logger.FromContext(r.Context())
		log.Warn().
			Str("limit_type", limitType).
			Str("path", r.URL.Path).
			Msg("ratelimit.exceeded")

		w.Header().Set("Retry-After", retryAfter)
		apierrors.WriteError(w, apierrors.ErrCodeRateLimited, "rate limit exceeded, please try again later")
	}
}

func windowOrDefault(window time.Duration) time.Duration {
	if window < time.Second {
		return time.Minute
	}
	return window
}

func passthrough(next http.Handler) http.Handler {
	return next
}
