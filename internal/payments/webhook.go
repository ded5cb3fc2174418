package payments

import (
	"context"
	"errors"
	"time"

	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/portfoliodash/payserver/internal/razorpay"
	"github.com/portfoliodash/payserver/internal/storage"
)

// HandleWebhook authenticates and applies a Razorpay webhook delivery.
// payment.captured and order.paid record the payment; other events are
// acknowledged without side effects. Without a webhook secret it returns
// razorpay.ErrWebhookSecretNotConfigured.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature, eventID string) (WebhookResult, error) {
	start := time.Now()
	source := string(storage.SourceWebhook)
	log := logger.FromContext(ctx).With().Str("razorpay_event_id", eventID).Logger()

	if !s.WebhooksEnabled() {
		s.metrics.ObserveVerification(source, metrics.OutcomeError, time.Since(start))
		log.Error().Msg("webhook.secret_missing")
		return WebhookResult{}, razorpay.ErrWebhookSecretNotConfigured
	}

	event, err := razorpay.ParseWebhook(body, signature, eventID, s.webhookSecret)
	if err != nil {
		if errors.Is(err, razorpay.ErrInvalidWebhookSignature) {
			s.metrics.ObserveVerification(source, metrics.OutcomeInvalid, time.Since(start))
			log.Warn().Msg("webhook.invalid_signature")
		} else {
			s.metrics.ObserveVerification(source, metrics.OutcomeRejected, time.Since(start))
			log.Warn().Err(err).Msg("webhook.malformed")
		}
		return WebhookResult{}, err
	}
	s.metrics.ObserveVerification(source, metrics.OutcomeValid, time.Since(start))

	result := WebhookResult{EventID: event.ID, Event: event.Event}
	log = log.With().Str("event", event.Event).Logger()

	switch event.Event {
	case razorpay.EventPaymentCaptured, razorpay.EventOrderPaid:
	default:
		log.Debug().Msg("webhook.ignored")
		return result, nil
	}

	payment := event.Payment
	orderID := event.OrderID()
	if payment == nil || payment.ID == "" || orderID == "" {
		log.Warn().Msg("webhook.missing_payment_entity")
		return result, nil
	}

	log = log.With().
		Str("order_id", orderID).
		Str("payment_id", logger.TruncateID(payment.ID)).
		Logger()

	metadata := map[string]string{"razorpay_event": event.Event}
	if payment.Method != "" {
		metadata["method"] = payment.Method
	}
	if eventID != "" {
		metadata["razorpay_event_id"] = eventID
	}
	for k, v := range payment.Notes {
		if _, exists := metadata[k]; !exists {
			metadata[k] = v
		}
	}

	status := payment.Status
	if status == "" {
		status = "captured"
	}

	isNew, err := s.settle(ctx, log, storage.PaymentRecord{
		PaymentID: payment.ID,
		OrderID:   orderID,
		Source:    storage.SourceWebhook,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Status:    status,
		Metadata:  metadata,
	})

	if err != nil {
		return result, err
	}

	result.Handled = true
	result.PaymentID = payment.ID
	result.Duplicate = !isNew
	log.Info().
		Bool("duplicate", result.Duplicate).
		Str("method", payment.Method).
		Str("email", logger.RedactEmail(payment.Email)).
		Msg("webhook.payment_recorded")
	return result, nil
}
