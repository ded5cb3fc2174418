package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.RazorpayConfig{
		KeyID:      "rzp_test_key",
		KeySecret:  testSecret,
		APIBaseURL: srv.URL + "/",
		Timeout:    config.Duration{Duration: 2 * time.Second},
	}, opts...)
}

func TestCreateOrder(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/orders" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "rzp_test_key" || pass != testSecret {
			t.Errorf("expected basic auth with key pair")
		}

		var req OrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Amount != 49900 || req.Currency != "INR" || req.Receipt != "rcpt_1" {
			t.Errorf("unexpected order request %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_ABC123","entity":"order","amount":49900,"amount_due":49900,"currency":"INR","receipt":"rcpt_1","status":"created","created_at":1700000000}`))
	}, WithClientMetrics(m))

	order, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 49900, Currency: "INR", Receipt: "rcpt_1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "order_ABC123" || order.Status != "created" || order.AmountDue != 49900 {
		t.Errorf("unexpected order %+v", order)
	}
	if got := promtest.ToFloat64(m.RazorpayCallsTotal.WithLabelValues("create_order", "success")); got != 1 {
		t.Errorf("expected 1 successful call recorded, got %.0f", got)
	}
}

func TestCreateOrder_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be at least INR 1.00","field":"amount"}}`))
	})

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 1, Currency: "INR"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "BAD_REQUEST_ERROR" || apiErr.Field != "amount" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestCreateOrder_UnstructuredError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != "UNKNOWN_ERROR" || apiErr.StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestCreateOrder_LocalValidation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	if _, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 0, Currency: "INR"}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := client.CreateOrder(context.Background(), OrderRequest{Amount: 100}); err == nil {
		t.Error("expected error for missing currency")
	}

	noSecret := NewClient(config.RazorpayConfig{KeyID: "rzp_test_key"})
	if _, err := noSecret.CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "INR"}); !errors.Is(err, ErrSecretNotConfigured) {
		t.Errorf("expected ErrSecretNotConfigured, got %v", err)
	}
}

func TestClient_BreakerOpensOnRepeatedFailures(t *testing.T) {
	calls := 0
	cfg := circuitbreaker.DefaultConfig()
	cfg.RazorpayAPI.ConsecutiveFailures = 2
	breakers := circuitbreaker.NewManager(cfg)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}, WithBreakers(breakers))

	for i := 0; i < 3; i++ {
		_, _ = client.FetchOrder(context.Background(), "order_ABC123")
	}
	if calls != 2 {
		t.Errorf("expected breaker to stop the third call, got %d calls", calls)
	}

	_, err := client.FetchOrder(context.Background(), "order_ABC123")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}
