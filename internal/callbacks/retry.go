package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/portfoliodash/payserver/internal/circuitbreaker"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/httputil"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/rs/zerolog"
)

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // default: 5
	InitialInterval time.Duration // default: 1s
	MaxInterval     time.Duration // default: 5m
	Multiplier      float64       // default: 2.0
	Timeout         time.Duration // per-attempt, default: 10s
}

// DefaultRetryConfig returns the default retry schedule.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts payment events asynchronously with exponential backoff.
// Deliveries that exhaust their attempts go to the DLQ when one is configured.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	tmpl       *template.Template
	dlqStore   DLQStore
	metrics    *metrics.Metrics
	breakers   *circuitbreaker.Manager

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// RetryOption customizes the retry client.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets the logger.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithDLQStore enables the dead letter queue.
func WithDLQStore(store DLQStore) RetryOption {
	return func(c *RetryableClient) {
		c.dlqStore = store
	}
}

// WithRetryConfig overrides the retry schedule.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// WithBreakers routes deliveries through the callback circuit breaker.
func WithBreakers(m *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breakers = m
	}
}

// NewRetryableClient returns a Notifier for cfg, or NoopNotifier when no URL is set.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.PaymentSuccessURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   retryConfigFrom(cfg, timeout),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(client)
	}

	if cfg.BodyTemplate != "" {
		tmpl, err := template.New("callback").Parse(cfg.BodyTemplate)
		if err != nil {
			client.logger.Error().Err(err).Msg("callbacks.template_parse_failed")
		} else {
			client.tmpl = tmpl
		}
	}
	return client
}

func retryConfigFrom(cfg config.CallbacksConfig, timeout time.Duration) RetryConfig {
	rc := DefaultRetryConfig()
	rc.Timeout = timeout
	if !cfg.Retry.Enabled {
		rc.MaxAttempts = 1
		return rc
	}
	if cfg.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		rc.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		rc.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier >= 1 {
		rc.Multiplier = cfg.Retry.Multiplier
	}
	return rc
}

// PaymentVerified dispatches the event on a background goroutine.
// The event id is fixed before the first attempt and reused by every retry.
func (c *RetryableClient) PaymentVerified(_ context.Context, event PaymentEvent) {
	if c == nil {
		return
	}
	PreparePaymentEvent(&event)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		payload, err := c.serialize(event)
		if err != nil {
			c.logger.Error().Err(err).Str("event_id", event.EventID).Msg("callbacks.serialize_failed")
			return
		}

		attempts, err := c.sendWithRetry(event.EventID, event.EventType, payload)
		if err == nil {
			return
		}
		c.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Int("attempts", attempts).
			Msg("callbacks.delivery_failed")
		if c.dlqStore != nil {
			c.saveToDLQ(event, payload, attempts, err)
		}
	}()
}

// Close stops pending backoff waits and blocks until in-flight deliveries finish.
func (c *RetryableClient) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	return nil
}

func (c *RetryableClient) serialize(event PaymentEvent) ([]byte, error) {
	if c.tmpl != nil {
		var buf bytes.Buffer
		if err := c.tmpl.Execute(&buf, event); err != nil {
			return nil, fmt.Errorf("execute template: %w", err)
		}
		return buf.Bytes(), nil
	}
	return json.Marshal(event)
}

// sendWithRetry returns the number of attempts made and the last error.
func (c *RetryableClient) sendWithRetry(eventID, eventType string, payload []byte) (int, error) {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	start := time.Now()

	attempt := 1
	for ; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		lastErr = c.attempt(eventID, payload)
		if lastErr == nil {
			c.metrics.ObserveCallback(eventType, "success", time.Since(start), attempt)
			if attempt > 1 {
				c.logger.Info().
					Str("event_id", eventID).
					Int("attempt", attempt).
					Msg("callbacks.delivered_after_retry")
			}
			return attempt, nil
		}

		c.logger.Warn().
			Err(lastErr).
			Str("event_id", eventID).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Dur("next_retry", interval).
			Msg("callbacks.attempt_failed")

		if attempt == c.retryCfg.MaxAttempts {
			break
		}
		select {
		case <-time.After(interval):
		case <-c.stop:
			c.metrics.ObserveCallback(eventType, "aborted", time.Since(start), attempt)
			return attempt, fmt.Errorf("callback aborted on shutdown: %w", lastErr)
		}
		interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
		if interval > c.retryCfg.MaxInterval {
			interval = c.retryCfg.MaxInterval
		}
	}

	c.metrics.ObserveCallback(eventType, "failed", time.Since(start), c.retryCfg.MaxAttempts)
	return c.retryCfg.MaxAttempts, fmt.Errorf("callback failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *RetryableClient) attempt(eventID string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.retryCfg.Timeout)
	defer cancel()

	_, err := c.breakers.Execute(circuitbreaker.ServiceCallback, func() (interface{}, error) {
		return nil, postPayload(ctx, c.httpClient, c.cfg, eventID, payload)
	})
	return err
}

func (c *RetryableClient) saveToDLQ(event PaymentEvent, payload []byte, attempts int, lastErr error) {
	now := time.Now().UTC()
	failed := FailedCallback{
		ID:          newDLQID(),
		EventID:     event.EventID,
		EventType:   event.EventType,
		URL:         c.cfg.PaymentSuccessURL,
		Payload:     json.RawMessage(payload),
		Attempts:    attempts,
		LastError:   lastErr.Error(),
		LastAttempt: now,
		CreatedAt:   now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.dlqStore.SaveFailedCallback(ctx, failed); err != nil {
		c.logger.Error().Err(err).Str("dlq_id", failed.ID).Msg("callbacks.dlq_save_failed")
		return
	}
	c.metrics.ObserveCallbackDLQ()
	c.logger.Info().
		Str("dlq_id", failed.ID).
		Str("event_id", failed.EventID).
		Int("attempts", attempts).
		Msg("callbacks.saved_to_dlq")
}
