package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.VerificationsTotal == nil || m.VerificationDuration == nil {
		t.Error("verification metrics should be initialized")
	}
	if m.RazorpayCallsTotal == nil || m.RazorpayCallDuration == nil {
		t.Error("Razorpay API metrics should be initialized")
	}
	if m.CallbacksTotal == nil || m.CallbackRetriesTotal == nil || m.CallbackDLQTotal == nil {
		t.Error("callback metrics should be initialized")
	}
}

func TestObserveVerification(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerification("checkout", OutcomeValid, 2*time.Millisecond)
	m.ObserveVerification("checkout", OutcomeInvalid, time.Millisecond)
	m.ObserveVerification("checkout", OutcomeInvalid, time.Millisecond)

	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("checkout", OutcomeValid)); got != 1 {
		t.Errorf("expected 1 valid verification, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("checkout", OutcomeInvalid)); got != 2 {
		t.Errorf("expected 2 invalid verifications, got %.0f", got)
	}
	if got := promtest.CollectAndCount(m.VerificationDuration); got != 1 {
		t.Errorf("expected 1 duration series, got %d", got)
	}
}

func TestObserveRazorpayCall(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRazorpayCall("create_order", 100*time.Millisecond, nil)
	m.ObserveRazorpayCall("create_order", 50*time.Millisecond, errors.New("boom"))

	if got := promtest.ToFloat64(m.RazorpayCallsTotal.WithLabelValues("create_order", "success")); got != 1 {
		t.Errorf("expected 1 successful call, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.RazorpayCallsTotal.WithLabelValues("create_order", "failure")); got != 1 {
		t.Errorf("expected 1 failed call, got %.0f", got)
	}
}

func TestObserveCallback(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveCallback("payment.verified", "success", time.Second, 1)
	m.ObserveCallback("payment.verified", "failed", time.Minute, 4)
	m.ObserveCallbackDLQ()

	var nilMetrics *Metrics
	nilMetrics.ObserveCallbackDLQ()

	if got := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues("payment.verified", "failed")); got != 1 {
		t.Errorf("expected 1 failed callback, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackRetriesTotal); got != 3 {
		t.Errorf("expected 3 retries, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackDLQTotal); got != 1 {
		t.Errorf("expected 1 DLQ entry, got %.0f", got)
	}
}

func TestObserveOrderAndHTTP(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveOrder(true)
	m.ObserveOrder(false)
	m.ObserveHTTPRequest("POST", "/api/verify-payment", 400)
	m.ObserveRateLimit("per_ip")

	if got := promtest.ToFloat64(m.OrdersTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("expected 1 failed order, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/verify-payment", "400")); got != 1 {
		t.Errorf("expected 1 request, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_ip")); got != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", got)
	}
}

func TestMeasureDBQuery(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	done := MeasureDBQuery(m, "record_payment", "postgres")
	done()

	if got := promtest.CollectAndCount(m.DBQueryDuration); got != 1 {
		t.Errorf("expected 1 query series, got %d", got)
	}

	// nil metrics are a no-op
	MeasureDBQuery(nil, "x", "memory")()
	var nilMetrics *Metrics
	nilMetrics.ObserveVerification("checkout", OutcomeValid, time.Millisecond)
}
