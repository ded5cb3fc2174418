package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Verification outcomes.
const (
	OutcomeValid    = "valid"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds all Prometheus metrics for payserver.
type Metrics struct {
	// Verification metrics
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec

	// Order metrics
	OrdersTotal *prometheus.CounterVec

	// Razorpay API metrics
	RazorpayCallsTotal   *prometheus.CounterVec
	RazorpayCallDuration *prometheus.HistogramVec

	// Callback metrics
	CallbacksTotal       *prometheus.CounterVec
	CallbackRetriesTotal prometheus.Counter
	CallbackDLQTotal     prometheus.Counter
	CallbackDuration     *prometheus.HistogramVec

	RateLimitHitsTotal *prometheus.CounterVec

	DBQueryDuration *prometheus.HistogramVec

	HTTPRequestsTotal *prometheus.CounterVec
}

// New creates and registers all metrics on registry (default registerer when nil).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_verifications_total",
				Help: "Total number of payment signature verifications",
			},
			[]string{"source", "outcome"},
		),
		VerificationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payserver_verification_duration_seconds",
				Help:    "Time taken to verify and record a payment",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"source"},
		),

		OrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_orders_total",
				Help: "Total number of order creation attempts",
			},
			[]string{"status"},
		),

		RazorpayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_razorpay_api_calls_total",
				Help: "Total number of Razorpay API calls",
			},
			[]string{"operation", "status"},
		),
		RazorpayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payserver_razorpay_api_duration_seconds",
				Help:    "Duration of Razorpay API calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"operation"},
		),

		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_callbacks_total",
				Help: "Total number of payment callback deliveries",
			},
			[]string{"event_type", "status"},
		),
		CallbackRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payserver_callback_retries_total",
				Help: "Total number of callback retry attempts",
			},
		),
		CallbackDLQTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payserver_callback_dlq_total",
				Help: "Total number of callbacks moved to the dead letter queue",
			},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payserver_callback_duration_seconds",
				Help:    "Time taken for callback delivery including retries",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 60, 300},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_rate_limit_hits_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"limit_type"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payserver_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payserver_http_requests_total",
				Help: "Total number of HTTP requests served",
			},
			[]string{"method", "route", "status"},
		),
	}
}

// ObserveVerification records one verification and how long it took.
// source is "checkout" or "webhook".
func (m *Metrics) ObserveVerification(source, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(source, outcome).Inc()
	m.VerificationDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveOrder records an order creation attempt.
func (m *Metrics) ObserveOrder(success bool) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(statusLabel(success)).Inc()
}

// ObserveRazorpayCall records a Razorpay API call.
func (m *Metrics) ObserveRazorpayCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.RazorpayCallsTotal.WithLabelValues(operation, statusLabel(err == nil)).Inc()
	m.RazorpayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveCallback records the final result of a callback delivery.
func (m *Metrics) ObserveCallback(eventType, status string, duration time.Duration, attempts int) {
	if m == nil {
		return
	}
	m.CallbacksTotal.WithLabelValues(eventType, status).Inc()
	m.CallbackDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if attempts > 1 {
		m.CallbackRetriesTotal.Add(float64(attempts - 1))
	}
}

// ObserveCallbackDLQ records a delivery persisted to the dead letter queue.
func (m *Metrics) ObserveCallbackDLQ() {
	if m == nil {
		return
	}
	m.CallbackDLQTotal.Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a served request. route is the chi route pattern.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
