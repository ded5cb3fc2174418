package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/metrics"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/verify-payment", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GlobalEnabled || cfg.GlobalLimit != 1000 {
		t.Errorf("unexpected global defaults: %+v", cfg)
	}
	if !cfg.PerIPEnabled || cfg.PerIPLimit != 60 {
		t.Errorf("unexpected per-IP defaults: %+v", cfg)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{
		GlobalEnabled: true,
		GlobalLimit:   10,
		GlobalWindow:  config.Duration{Duration: 30 * time.Second},
		PerIPEnabled:  false,
		PerIPLimit:    5,
	}, nil)

	if cfg.GlobalLimit != 10 || cfg.GlobalWindow != 30*time.Second {
		t.Errorf("global limits not carried over: %+v", cfg)
	}
	if cfg.PerIPEnabled {
		t.Error("per-IP should stay disabled")
	}
}

func TestLimiters_Disabled(t *testing.T) {
	handler := GlobalLimiter(Config{})(IPLimiter(Config{})(okHandler()))
	for i := 0; i < 50; i++ {
		if rec := request(handler, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 with limits disabled, got %d", i, rec.Code)
		}
	}
}

func TestGlobalLimiter_SharedAcrossClients(t *testing.T) {
	handler := GlobalLimiter(Config{GlobalEnabled: true, GlobalLimit: 3, GlobalWindow: time.Minute})(okHandler())

	for i := 0; i < 3; i++ {
		addr := fmt.Sprintf("10.0.0.%d:1234", i+1)
		if rec := request(handler, addr); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := request(handler, "10.0.0.9:1234"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected global limit to apply to a new client, got %d", rec.Code)
	}
}

func TestIPLimiter_PerClient(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	handler := IPLimiter(Config{PerIPEnabled: true, PerIPLimit: 2, PerIPWindow: time.Minute, Metrics: m})(okHandler())

	request(handler, "192.168.1.1:1000")
	request(handler, "192.168.1.1:1000")
	rec := request(handler, "192.168.1.1:1000")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", rec.Header().Get("Retry-After"))
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != "rate_limited" || body["success"] != false || body["retryable"] != true {
		t.Errorf("unexpected error envelope: %v", body)
	}

	if other := request(handler, "192.168.1.2:1000"); other.Code != http.StatusOK {
		t.Fatalf("a different IP should not be limited, got %d", other.Code)
	}

	if got := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues(LimitPerIP)); got != 1 {
		t.Errorf("expected 1 per_ip rate limit hit, got %v", got)
	}
}

func TestWindowOrDefault(t *testing.T) {
	if got := windowOrDefault(0); got != time.Minute {
		t.Errorf("zero window should default to a minute, got %v", got)
	}
	if got := windowOrDefault(10 * time.Second); got != 10*time.Second {
		t.Errorf("expected 10s, got %v", got)
	}
}
