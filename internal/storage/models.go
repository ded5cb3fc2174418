package storage

import (
	"fmt"
	"time"
)

// OrderStatus is the local lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	OrderStatusPaid    OrderStatus = "paid"
)

// Order is a Razorpay order created by this service.
// Amount is in the currency's smallest unit.
type Order struct {
	ID        string            `json:"id" bson:"_id"`
	Amount    int64             `json:"amount" bson:"amount"`
	Currency  string            `json:"currency" bson:"currency"`
	Receipt   string            `json:"receipt" bson:"receipt"`
	Status    OrderStatus       `json:"status" bson:"status"`
	Notes     map[string]string `json:"notes,omitempty" bson:"notes,omitempty"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
	PaidAt    *time.Time        `json:"paid_at,omitempty" bson:"paid_at,omitempty"`
	PaymentID string            `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
}

// PaymentSource records which path verified a payment.
type PaymentSource string

const (
	SourceCheckout PaymentSource = "checkout"
	SourceWebhook  PaymentSource = "webhook"
)

// PaymentRecord is a ledger entry for a payment whose authenticity was verified.
type PaymentRecord struct {
	PaymentID  string            `json:"payment_id" bson:"_id"`
	OrderID    string            `json:"order_id" bson:"order_id"`
	Signature  string            `json:"-" bson:"signature,omitempty"`
	Source     PaymentSource     `json:"source" bson:"source"`
	Amount     int64             `json:"amount,omitempty" bson:"amount,omitempty"`
	Currency   string            `json:"currency,omitempty" bson:"currency,omitempty"`
	Status     string            `json:"status" bson:"status"`
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
	VerifiedAt time.Time         `json:"verified_at" bson:"verified_at"`
}

func prepareOrder(order *Order) error {
	if order.ID == "" {
		return fmt.Errorf("order requires id")
	}
	if order.Status == "" {
		order.Status = OrderStatusCreated
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	return nil
}

func preparePayment(record *PaymentRecord) error {
	if record.PaymentID == "" {
		return fmt.Errorf("payment record requires payment id")
	}
	if record.OrderID == "" {
		return fmt.Errorf("payment record requires order id")
	}
	if record.Source == "" {
		record.Source = SourceCheckout
	}
	if record.Status == "" {
		record.Status = "verified"
	}
	if record.VerifiedAt.IsZero() {
		record.VerifiedAt = time.Now().UTC()
	}
	return nil
}
