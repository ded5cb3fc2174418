package circuitbreaker

import (
	"time"

	"github.com/portfoliodash/payserver/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ServiceType names an outbound dependency that gets its own breaker.
type ServiceType string

const (
	ServiceRazorpay ServiceType = "razorpay_api"
	ServiceCallback ServiceType = "callback"
)

// Manager keeps one breaker per outbound dependency so a failing callback
// receiver cannot stall order creation against Razorpay, and vice versa.
type Manager struct {
	breakers map[ServiceType]*gobreaker.CircuitBreaker
	enabled  bool
}

// Config holds breaker settings for every dependency.
type Config struct {
	Enabled     bool
	RazorpayAPI BreakerConfig
	Callback    BreakerConfig
}

// BreakerConfig configures a single breaker.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears closed-state counts. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// NewManagerFromConfig builds a manager from application config.
func NewManagerFromConfig(cfg config.CircuitBreakerConfig) *Manager {
	return NewManager(Config{
		Enabled:     cfg.Enabled,
		RazorpayAPI: fromServiceConfig(cfg.RazorpayAPI),
		Callback:    fromServiceConfig(cfg.Callback),
	})
}

func fromServiceConfig(s config.BreakerServiceConfig) BreakerConfig {
	return BreakerConfig{
		MaxRequests:         s.MaxRequests,
		Interval:            s.Interval.Duration,
		Timeout:             s.Timeout.Duration,
		ConsecutiveFailures: s.ConsecutiveFailures,
		FailureRatio:        s.FailureRatio,
		MinRequests:         s.MinRequests,
	}
}

// NewManager creates a manager. A disabled manager passes every call through.
func NewManager(cfg Config) *Manager {
	m := &Manager{
		breakers: make(map[ServiceType]*gobreaker.CircuitBreaker),
		enabled:  cfg.Enabled,
	}
	if !cfg.Enabled {
		return m
	}

	m.breakers[ServiceRazorpay] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceRazorpay), cfg.RazorpayAPI))
	m.breakers[ServiceCallback] = gobreaker.NewCircuitBreaker(toGobreakerSettings(string(ServiceCallback), cfg.Callback))
	return m
}

// Execute runs fn behind the breaker for service.
// Unknown services and a disabled manager execute fn directly.
func (m *Manager) Execute(service ServiceType, fn func() (interface{}, error)) (interface{}, error) {
	if m == nil || !m.enabled {
		return fn()
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return fn()
	}
	return breaker.Execute(fn)
}

// State reports the breaker state, "disabled" or "not_configured".
func (m *Manager) State(service ServiceType) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return "not_configured"
	}
	return breaker.State().String()
}

// Counts returns the current counts for a breaker.
func (m *Manager) Counts(service ServiceType) Counts {
	if m == nil || !m.enabled {
		return Counts{}
	}
	breaker, ok := m.breakers[service]
	if !ok {
		return Counts{}
	}
	c := breaker.Counts()
	return Counts{
		Requests:             c.Requests,
		TotalSuccesses:       c.TotalSuccesses,
		TotalFailures:        c.TotalFailures,
		ConsecutiveSuccesses: c.ConsecutiveSuccesses,
		ConsecutiveFailures:  c.ConsecutiveFailures,
	}
}

// Counts mirrors gobreaker.Counts so callers need not import gobreaker.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func toGobreakerSettings(name string, cfg BreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= cfg.FailureRatio
			}
			return false
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit_breaker.state_changed")
		},
	}
}

// DefaultConfig mirrors the config package defaults.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		RazorpayAPI: BreakerConfig{
			MaxRequests:         3,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
			FailureRatio:        0.5,
			MinRequests:         10,
		},
		Callback: BreakerConfig{
			MaxRequests:         5,
			Interval:            60 * time.Second,
			Timeout:             60 * time.Second,
			ConsecutiveFailures: 10,
			FailureRatio:        0.7,
			MinRequests:         20,
		},
	}
}
