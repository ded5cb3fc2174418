package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func fastRetry(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     maxAttempts,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		Multiplier:      2.0,
		Timeout:         time.Second,
	}
}

func callbackConfig(url string) config.CallbacksConfig {
	return config.CallbacksConfig{
		PaymentSuccessURL: url,
		Headers:           map[string]string{"X-Api-Key": "receiver-key"},
		Timeout:           config.Duration{Duration: time.Second},
		Retry:             config.RetryConfig{Enabled: true},
	}
}

func TestNewRetryableClient_NoURLIsNoop(t *testing.T) {
	if _, ok := NewRetryableClient(config.CallbacksConfig{}).(NoopNotifier); !ok {
		t.Fatal("expected NoopNotifier when no URL is configured")
	}
}

func TestRetryableClient_DeliversEvent(t *testing.T) {
	var (
		mu       sync.Mutex
		received PaymentEvent
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		_ = json.Unmarshal(body, &received)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := NewRetryableClient(callbackConfig(server.URL), WithRetryConfig(fastRetry(3)), WithMetrics(m)).(*RetryableClient)

	client.PaymentVerified(context.Background(), PaymentEvent{
		OrderID:   "order_ABC123",
		PaymentID: "pay_XYZ789",
		Amount:    49900,
		Currency:  "INR",
		Source:    "checkout",
	})
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.EventType != EventPaymentVerified || received.PaymentID != "pay_XYZ789" {
		t.Errorf("unexpected event %+v", received)
	}
	if received.EventID == "" || headers.Get(EventIDHeader) != received.EventID {
		t.Errorf("expected event id header %q to match body %q", headers.Get(EventIDHeader), received.EventID)
	}
	if headers.Get("X-Api-Key") != "receiver-key" {
		t.Errorf("expected configured header, got %q", headers.Get("X-Api-Key"))
	}
	if headers.Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type, got %q", headers.Get("Content-Type"))
	}
	if got := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues(EventPaymentVerified, "success")); got != 1 {
		t.Errorf("expected 1 successful callback, got %.0f", got)
	}
}

func TestRetryableClient_RetriesWithStableEventID(t *testing.T) {
	var (
		count atomic.Int32
		mu    sync.Mutex
		ids   []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(EventIDHeader))
		mu.Unlock()
		if count.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dlq := NewMemoryDLQStore()
	client := NewRetryableClient(callbackConfig(server.URL), WithRetryConfig(fastRetry(5)), WithDLQStore(dlq)).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{OrderID: "order_1", PaymentID: "pay_1"})
	_ = client.Close()

	if got := count.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Errorf("event id changed between retries: %v", ids)
		}
	}
	if items, _ := dlq.ListFailedCallbacks(context.Background(), 0); len(items) != 0 {
		t.Errorf("expected empty DLQ, got %d", len(items))
	}
}

func TestRetryableClient_ExhaustedGoesToDLQ(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dlq, err := NewFileDLQStore(filepath.Join(t.TempDir(), "dlq", "callbacks.json"))
	if err != nil {
		t.Fatalf("new file dlq: %v", err)
	}
	m := metrics.New(prometheus.NewRegistry())
	client := NewRetryableClient(callbackConfig(server.URL), WithRetryConfig(fastRetry(3)), WithDLQStore(dlq), WithMetrics(m)).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{EventID: "evt_fixed", OrderID: "order_1", PaymentID: "pay_1"})
	client.wg.Wait()
	_ = client.Close()

	if got := count.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}

	items, err := dlq.ListFailedCallbacks(context.Background(), 10)
	if err != nil {
		t.Fatalf("list dlq: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(items))
	}
	if items[0].EventID != "evt_fixed" || items[0].Attempts != 3 || items[0].LastError == "" {
		t.Errorf("unexpected DLQ entry %+v", items[0])
	}
	if got := promtest.ToFloat64(m.CallbackDLQTotal); got != 1 {
		t.Errorf("expected DLQ metric 1, got %.0f", got)
	}

	reopened, err := NewFileDLQStore(dlq.filePath)
	if err != nil {
		t.Fatalf("reopen dlq: %v", err)
	}
	persisted, _ := reopened.ListFailedCallbacks(context.Background(), 0)
	if len(persisted) != 1 {
		t.Errorf("expected DLQ entry to survive reopen, got %d", len(persisted))
	}
	if err := reopened.DeleteFailedCallback(context.Background(), persisted[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestRetryableClient_ShutdownAbortGoesToDLQ(t *testing.T) {
	firstAttempt := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(firstAttempt) })
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	retry := fastRetry(3)
	retry.InitialInterval = time.Minute
	retry.MaxInterval = time.Minute

	dlq := NewMemoryDLQStore()
	m := metrics.New(prometheus.NewRegistry())
	client := NewRetryableClient(callbackConfig(server.URL), WithRetryConfig(retry), WithDLQStore(dlq), WithMetrics(m)).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{EventID: "evt_abort", OrderID: "order_1", PaymentID: "pay_1"})

	select {
	case <-firstAttempt:
	case <-time.After(2 * time.Second):
		t.Fatal("first delivery attempt never arrived")
	}
	_ = client.Close()

	items, _ := dlq.ListFailedCallbacks(context.Background(), 0)
	if len(items) != 1 || items[0].EventID != "evt_abort" || items[0].Attempts != 1 {
		t.Fatalf("expected one aborted entry after 1 attempt, got %+v", items)
	}
	if got := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues(EventPaymentVerified, "aborted")); got != 1 {
		t.Errorf("expected 1 aborted callback, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackDLQTotal); got != 1 {
		t.Errorf("expected DLQ metric 1, got %.0f", got)
	}
}

type brokenDLQ struct{ MemoryDLQStore }

func (*brokenDLQ) SaveFailedCallback(context.Context, FailedCallback) error {
	return errors.New("disk full")
}

func TestRetryableClient_DLQSaveFailureNotCounted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	m := metrics.New(prometheus.NewRegistry())
	client := NewRetryableClient(callbackConfig(server.URL), WithRetryConfig(fastRetry(2)), WithDLQStore(&brokenDLQ{}), WithMetrics(m)).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{OrderID: "order_1", PaymentID: "pay_1"})
	client.wg.Wait()
	_ = client.Close()

	if got := promtest.ToFloat64(m.CallbacksTotal.WithLabelValues(EventPaymentVerified, "failed")); got != 1 {
		t.Errorf("expected 1 failed callback, got %.0f", got)
	}
	if got := promtest.ToFloat64(m.CallbackDLQTotal); got != 0 {
		t.Errorf("DLQ metric must not count a failed save, got %.0f", got)
	}
}

func TestRetryableClient_RetriesDisabled(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := callbackConfig(server.URL)
	cfg.Retry.Enabled = false
	client := NewRetryableClient(cfg).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{OrderID: "order_1", PaymentID: "pay_1"})
	_ = client.Close()

	if got := count.Load(); got != 1 {
		t.Errorf("expected a single attempt, got %d", got)
	}
}

func TestRetryableClient_BreakerStopsDeliveries(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	bcfg := circuitbreaker.DefaultConfig()
	bcfg.Callback.ConsecutiveFailures = 2
	bcfg.Callback.Timeout = time.Minute
	client := NewRetryableClient(callbackConfig(server.URL),
		WithRetryConfig(fastRetry(5)),
		WithBreakers(circuitbreaker.NewManager(bcfg)),
	).(*RetryableClient)

	client.PaymentVerified(context.Background(), PaymentEvent{OrderID: "order_1", PaymentID: "pay_1"})
	client.wg.Wait()
	_ = client.Close()

	if got := count.Load(); got != 2 {
		t.Errorf("expected breaker to cut deliveries after 2 attempts, got %d", got)
	}
}

func TestRetryableClient_BodyTemplate(t *testing.T) {
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body.Store(string(b))
	}))
	defer server.Close()

	cfg := callbackConfig(server.URL)
	cfg.BodyTemplate = `{"text":"paid {{.PaymentID}} for {{.OrderID}}"}`
	client := NewRetryableClient(cfg).(*RetryableClient)
	client.PaymentVerified(context.Background(), PaymentEvent{OrderID: "order_1", PaymentID: "pay_1"})
	_ = client.Close()

	if got, _ := body.Load().(string); got != `{"text":"paid pay_1 for order_1"}` {
		t.Errorf("unexpected templated body %q", got)
	}
}

func TestSendOnce(t *testing.T) {
	if err := SendOnce(context.Background(), config.CallbacksConfig{}, PaymentEvent{}); err != ErrCallbackDisabled {
		t.Errorf("expected ErrCallbackDisabled, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	if err := SendOnce(context.Background(), callbackConfig(server.URL), PaymentEvent{PaymentID: "pay_1"}); err == nil {
		t.Error("expected error for 4xx response")
	}
}
