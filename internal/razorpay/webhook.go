package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// SignatureHeader carries the hex HMAC of the raw webhook body.
	SignatureHeader = "X-Razorpay-Signature"
	// EventIDHeader carries Razorpay's unique id for a webhook delivery.
	EventIDHeader = "X-Razorpay-Event-Id"
)

// Webhook event types the service acts on.
const (
	EventPaymentCaptured   = "payment.captured"
	EventPaymentAuthorized = "payment.authorized"
	EventPaymentFailed     = "payment.failed"
	EventOrderPaid         = "order.paid"
)

var (
	// ErrWebhookSecretNotConfigured is returned when webhook ingestion is attempted without a secret.
	ErrWebhookSecretNotConfigured = errors.New("razorpay: webhook secret not configured")
	// ErrInvalidWebhookSignature is returned when the webhook body does not match its signature.
	ErrInvalidWebhookSignature = errors.New("razorpay: invalid webhook signature")
)

// PayloadError reports an authenticated webhook body that could not be decoded.
type PayloadError struct {
	Reason string
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("razorpay: %s: %v", e.Reason, e.Err)
	}
	return "razorpay: " + e.Reason
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// SignWebhook computes the signature Razorpay attaches to a webhook body.
func SignWebhook(body []byte, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature reports whether signature authenticates body under secret.
func VerifyWebhookSignature(body []byte, signature string, secret []byte) (bool, error) {
	if len(secret) == 0 {
		return false, ErrWebhookSecretNotConfigured
	}
	if len(signature) == 0 {
		return false, nil
	}
	expected := SignWebhook(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature)), nil
}

// PaymentEntity is the subset of Razorpay's payment object the service reads.
type PaymentEntity struct {
	ID       string            `json:"id"`
	OrderID  string            `json:"order_id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Method   string            `json:"method"`
	Email    string            `json:"email"`
	Notes    map[string]string `json:"notes"`
}

// OrderEntity is the subset of Razorpay's order object the service reads.
type OrderEntity struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Receipt  string `json:"receipt"`
}

// WebhookEvent is a parsed and authenticated Razorpay webhook.
type WebhookEvent struct {
	ID        string
	Event     string
	CreatedAt time.Time
	Payment   *PaymentEntity
	Order     *OrderEntity
}

type rawWebhook struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment *struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity OrderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseWebhook authenticates body against signature and decodes it.
// eventID is the value of the X-Razorpay-Event-Id header and may be empty.
func ParseWebhook(body []byte, signature, eventID string, secret []byte) (WebhookEvent, error) {
	ok, err := VerifyWebhookSignature(body, signature, secret)
	if err != nil {
		return WebhookEvent{}, err
	}
	if !ok {
		return WebhookEvent{}, ErrInvalidWebhookSignature
	}

	var raw rawWebhook
	if err := json.Unmarshal(body, &raw); err != nil {
		return WebhookEvent{}, &PayloadError{Reason: "decode webhook payload", Err: err}
	}
	if raw.Event == "" {
		return WebhookEvent{}, &PayloadError{Reason: "webhook missing event type"}
	}

	event := WebhookEvent{
		ID:    eventID,
		Event: raw.Event,
	}
	if raw.CreatedAt > 0 {
		event.CreatedAt = time.Unix(raw.CreatedAt, 0).UTC()
	}
	if raw.Payload.Payment != nil {
		p := raw.Payload.Payment.Entity
		event.Payment = &p
	}
	if raw.Payload.Order != nil {
		o := raw.Payload.Order.Entity
		event.Order = &o
	}
	return event, nil
}

// OrderID returns the order the event refers to, preferring the payment's order id.
func (e WebhookEvent) OrderID() string {
	if e.Payment != nil && e.Payment.OrderID != "" {
		return e.Payment.OrderID
	}
	if e.Order != nil {
		return e.Order.ID
	}
	return ""
}
