package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/httputil"
)

// EventPaymentVerified is the only event type payserver emits.
const EventPaymentVerified = "payment.verified"

// EventIDHeader carries the event id so receivers can deduplicate retries.
const EventIDHeader = "X-Payserver-Event-Id"

// Notifier delivers payment events to the configured callback URL.
type Notifier interface {
	PaymentVerified(ctx context.Context, event PaymentEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) PaymentVerified(context.Context, PaymentEvent) {}

// PaymentEvent describes a payment whose signature was verified.
// EventID stays the same across retries and is the receiver's idempotency key.
type PaymentEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"`
	EventTimestamp time.Time `json:"eventTimestamp"`

	OrderID    string            `json:"orderId"`
	PaymentID  string            `json:"paymentId"`
	Amount     int64             `json:"amount,omitempty"` // smallest currency unit
	Currency   string            `json:"currency,omitempty"`
	Source     string            `json:"source"` // "checkout" or "webhook"
	Metadata   map[string]string `json:"metadata,omitempty"`
	VerifiedAt time.Time         `json:"verifiedAt"`
}

// ErrCallbackDisabled is returned when no callback URL is configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

func generateEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PreparePaymentEvent fills in the event id, type and timestamps.
// An existing EventID is preserved.
func PreparePaymentEvent(event *PaymentEvent) {
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.EventType == "" {
		event.EventType = EventPaymentVerified
	}
	now := time.Now().UTC()
	if event.EventTimestamp.IsZero() {
		event.EventTimestamp = now
	}
	if event.VerifiedAt.IsZero() {
		event.VerifiedAt = now
	}
}

// SendOnce posts a single event without retries. Used by CLI tools.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, event PaymentEvent) error {
	if cfg.PaymentSuccessURL == "" {
		return ErrCallbackDisabled
	}
	PreparePaymentEvent(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return postPayload(ctx, httputil.NewClient(timeout), cfg, event.EventID, payload)
}

// postPayload performs one delivery attempt.
func postPayload(ctx context.Context, client *http.Client, cfg config.CallbacksConfig, eventID string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.PaymentSuccessURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	contentType := "application/json"
	for k, v := range cfg.Headers {
		if k == "" {
			continue
		}
		if strings.EqualFold(k, "content-type") {
			contentType = v
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(EventIDHeader, eventID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from callback", resp.StatusCode)
	}
	return nil
}
