package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sony/gobreaker"

	apierrors "github.com/portfoliodash/payserver/internal/errors"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/payments"
	"github.com/portfoliodash/payserver/internal/razorpay"
	"github.com/portfoliodash/payserver/internal/storage"
	"github.com/portfoliodash/payserver/pkg/responders"
)

// Client-facing verification messages. Missing fields, malformed bodies and
// bad signatures share one message so callers cannot tell which check failed.
const (
	msgPaymentVerified     = "Payment verified successfully"
	msgVerificationFailed  = "Payment verification failed"
	msgInternalError       = "Internal server error"
	errVerificationBackend = "verification unavailable"
)

type verifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type verifyPaymentResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PaymentID string `json:"payment_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *handlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req verifyPaymentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		log.Info().Err(err).Msg("payment.verify.malformed_body")
		responders.JSON(w, http.StatusBadRequest, verifyPaymentResponse{Message: msgVerificationFailed})
		return
	}

	outcome, err := h.payments.VerifyPayment(r.Context(), payments.Confirmation{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		var validationErr *razorpay.ValidationError
		if errors.As(err, &validationErr) && !errors.Is(err, razorpay.ErrSecretNotConfigured) {
			responders.JSON(w, http.StatusBadRequest, verifyPaymentResponse{Message: msgVerificationFailed})
			return
		}
		// Detail stays in the service log.
		responders.JSON(w, http.StatusInternalServerError, verifyPaymentResponse{
			Message: msgInternalError,
			Error:   errVerificationBackend,
		})
		return
	}
	if !outcome.Valid {
		responders.JSON(w, http.StatusBadRequest, verifyPaymentResponse{Message: msgVerificationFailed})
		return
	}

	responders.JSON(w, http.StatusOK, verifyPaymentResponse{
		Success:   true,
		Message:   msgPaymentVerified,
		PaymentID: outcome.PaymentID,
	})
}

type createOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

type createOrderResponse struct {
	Success  bool   `json:"success"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
	KeyID    string `json:"key_id"`
}

func (h *handlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "invalid request body")
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), payments.OrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		writeOrderError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, createOrderResponse{
		Success:  true,
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
		Status:   string(order.Status),
		KeyID:    h.payments.KeyID(),
	})
}

// writeOrderError maps order creation failures onto the error envelope.
func writeOrderError(w http.ResponseWriter, err error) {
	var apiErr *razorpay.APIError
	switch {
	case errors.Is(err, payments.ErrInvalidAmount):
		apierrors.WriteError(w, apierrors.ErrCodeValidationFailed, "amount must be a positive integer in the smallest currency unit")
	case errors.Is(err, payments.ErrInvalidCurrency):
		apierrors.WriteError(w, apierrors.ErrCodeValidationFailed, "currency must be a 3-letter ISO code")
	case errors.Is(err, payments.ErrInvalidReceipt):
		apierrors.WriteError(w, apierrors.ErrCodeValidationFailed, "receipt must be at most 40 characters")
	case errors.Is(err, payments.ErrOrdersDisabled), errors.Is(err, razorpay.ErrSecretNotConfigured):
		apierrors.WriteError(w, apierrors.ErrCodeConfigError, "order creation is not available")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		apierrors.WriteError(w, apierrors.ErrCodeServiceUnavailable, "payment provider temporarily unavailable")
	case errors.As(err, &apiErr):
		if apiErr.StatusCode == http.StatusUnauthorized {
			apierrors.WriteError(w, apierrors.ErrCodeConfigError, "order creation is not available")
			return
		}
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.Description != "" {
			apierrors.WriteError(w, apierrors.ErrCodeRazorpayError, apiErr.Description)
			return
		}
		apierrors.WriteError(w, apierrors.ErrCodeRazorpayError, "payment provider rejected the order")
	default:
		apierrors.WriteError(w, apierrors.ErrCodeRazorpayError, "unable to create order")
	}
}

func (h *handlers) getPayment(w http.ResponseWriter, r *http.Request) {
	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))

	record, err := h.payments.GetPayment(r.Context(), paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			apierrors.WriteError(w, apierrors.ErrCodeNotFound, "payment not found")
			return
		}
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("payment_id", logger.TruncateID(paymentID)).Msg("payment.lookup_failed")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "unable to load payment")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"payment": record,
	})
}

// paymentConfig returns the public values the checkout widget needs.
func (h *handlers) paymentConfig(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]string{
		"key_id":   h.payments.KeyID(),
		"currency": h.payments.DefaultCurrency(),
	})
}
