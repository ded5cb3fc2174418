package razorpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// messageSeparator joins order and payment ids in the message Razorpay signs.
const messageSeparator = '|'

// ErrSecretNotConfigured is returned when verification is attempted without a key secret.
// It is an internal failure, never a client error.
var ErrSecretNotConfigured = errors.New("razorpay: key secret not configured")

// ValidationError reports required inputs that were absent or blank.
// No signature is computed when it is returned.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("razorpay: missing required fields: %s", strings.Join(e.Fields, ", "))
}

// Unwrap exposes ErrSecretNotConfigured when the secret was one of the missing inputs,
// so callers can tell a server misconfiguration from bad client input.
func (e *ValidationError) Unwrap() error {
	for _, f := range e.Fields {
		if f == "key_secret" {
			return ErrSecretNotConfigured
		}
	}
	return nil
}

// Result is the outcome of verifying a structurally valid payment confirmation.
// PaymentID is only populated when Valid is true.
type Result struct {
	Valid     bool
	PaymentID string
}

// Sign computes the lowercase hex HMAC-SHA256 that Razorpay issues for an order/payment pair.
func Sign(orderID, paymentID string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte{messageSeparator})
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyPaymentSignature checks that signature was produced by the holder of secret
// for the given order and payment. A mismatch is reported as Result{Valid: false}
// with a nil error; only missing inputs produce an error.
func VerifyPaymentSignature(orderID, paymentID, signature string, secret []byte) (Result, error) {
	var missing []string
	if isBlank(orderID) {
		missing = append(missing, "order_id")
	}
	if isBlank(paymentID) {
		missing = append(missing, "payment_id")
	}
	if isBlank(signature) {
		missing = append(missing, "signature")
	}
	if len(secret) == 0 {
		missing = append(missing, "key_secret")
	}
	if len(missing) > 0 {
		return Result{}, &ValidationError{Fields: missing}
	}

	expected := Sign(orderID, paymentID, secret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return Result{Valid: false}, nil
	}
	return Result{Valid: true, PaymentID: paymentID}, nil
}

// Verifier holds the Razorpay key secret for the lifetime of the process.
// It has no other state and is safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier bound to secret. An empty secret is rejected
// so a misconfigured server fails at startup instead of on the first payment.
func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, ErrSecretNotConfigured
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify checks a payment confirmation against the configured secret.
func (v *Verifier) Verify(orderID, paymentID, signature string) (Result, error) {
	if v == nil || len(v.secret) == 0 {
		return Result{}, ErrSecretNotConfigured
	}
	return VerifyPaymentSignature(orderID, paymentID, signature, v.secret)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
