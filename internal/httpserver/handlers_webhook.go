package httpserver

import (
	"errors"
	"io"
	"net/http"

	apierrors "github.com/portfoliodash/payserver/internal/errors"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/razorpay"
	"github.com/portfoliodash/payserver/pkg/responders"
)

// razorpayWebhook ingests Razorpay webhook deliveries. The signature covers
// the raw body, so it is read verbatim before any decoding.
func (h *handlers) razorpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "unable to read webhook body")
		return
	}

	result, err := h.payments.HandleWebhook(
		r.Context(),
		body,
		r.Header.Get(razorpay.SignatureHeader),
		r.Header.Get(razorpay.EventIDHeader),
	)
	if err != nil {
		switch {
		case errors.Is(err, razorpay.ErrWebhookSecretNotConfigured):
			apierrors.WriteError(w, apierrors.ErrCodeConfigError, "webhooks are not configured")
		case errors.Is(err, razorpay.ErrInvalidWebhookSignature):
			apierrors.WriteError(w, apierrors.ErrCodeInvalidSignature, "invalid webhook signature")
		case isWebhookPayloadError(err):
			apierrors.WriteError(w, apierrors.ErrCodeInvalidRequest, "malformed webhook payload")
		default:
			// Non-2xx makes Razorpay redeliver.
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("webhook.processing_failed")
			apierrors.WriteError(w, apierrors.ErrCodeInternalError, "unable to process webhook")
		}
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"event":   result.Event,
		"handled": result.Handled,
	})
}

// isWebhookPayloadError reports errors from decoding an authenticated body.
// Ledger failures come back wrapped differently and are treated as internal.
func isWebhookPayloadError(err error) bool {
	var payloadErr *razorpay.PayloadError
	return errors.As(err, &payloadErr)
}
