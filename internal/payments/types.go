package payments

import (
	"context"
	"errors"

	"github.com/portfoliodash/payserver/internal/razorpay"
)

// Confirmation is the untrusted triple the checkout widget hands back after payment.
type Confirmation struct {
	OrderID   string
	PaymentID string
	Signature string
}

// Outcome is the result of verifying a Confirmation.
// Duplicate is set when the payment was already in the ledger.
type Outcome struct {
	Valid     bool
	PaymentID string
	Duplicate bool
}

// OrderRequest describes an order the front end wants to pay.
// Amount is in the smallest currency unit.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// WebhookResult reports what HandleWebhook did with an event.
type WebhookResult struct {
	EventID   string
	Event     string
	Handled   bool
	PaymentID string
	Duplicate bool
}

// OrderCreator creates orders with the payment processor.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req razorpay.OrderRequest) (razorpay.Order, error)
}

var (
	ErrInvalidAmount   = errors.New("payments: amount must be a positive integer in the smallest currency unit")
	ErrInvalidCurrency = errors.New("payments: currency must be a 3-letter ISO code")
	ErrInvalidReceipt  = errors.New("payments: receipt must be at most 40 characters")
	ErrOrdersDisabled  = errors.New("payments: order creation is not configured")
)

// maxReceiptLength is Razorpay's limit on order receipts.
const maxReceiptLength = 40
