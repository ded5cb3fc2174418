package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/portfoliodash/payserver/internal/callbacks"
	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/logger"
	"github.com/portfoliodash/payserver/internal/metrics"
	"github.com/portfoliodash/payserver/internal/razorpay"
	"github.com/portfoliodash/payserver/internal/storage"
)

// Service verifies Razorpay payments and keeps the local ledger in step.
// The verifier decides authenticity; Service owns every side effect that follows.
type Service struct {
	verifier        *razorpay.Verifier
	webhookSecret   []byte
	keyID           string
	defaultCurrency string
	orders          OrderCreator
	store           storage.Store
	notifier        callbacks.Notifier
	metrics         *metrics.Metrics
}

// NewService constructs a payment service. It fails when the key secret is missing.
// orders may be nil, in which case CreateOrder returns ErrOrdersDisabled.
func NewService(cfg config.RazorpayConfig, store storage.Store, orders OrderCreator, notifier callbacks.Notifier, metricsCollector *metrics.Metrics) (*Service, error) {
	verifier, err := razorpay.NewVerifier(cfg.KeySecret)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}

	currency := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if currency == "" {
		currency = "INR"
	}

	s := &Service{
		verifier:        verifier,
		keyID:           cfg.KeyID,
		defaultCurrency: currency,
		orders:          orders,
		store:           store,
		notifier:        notifier,
		metrics:         metricsCollector,
	}
	if cfg.WebhookSecret != "" {
		s.webhookSecret = []byte(cfg.WebhookSecret)
	}
	return s, nil
}

// KeyID returns the public Razorpay key id used by the checkout widget.
func (s *Service) KeyID() string {
	return s.keyID
}

// DefaultCurrency returns the currency used when an order omits one.
func (s *Service) DefaultCurrency() string {
	return s.defaultCurrency
}

// WebhooksEnabled reports whether a webhook secret is configured.
func (s *Service) WebhooksEnabled() bool {
	return len(s.webhookSecret) > 0
}

// VerifyPayment checks a checkout confirmation. A forged or mismatched signature
// is Outcome{Valid: false} with a nil error. Missing fields return a
// *razorpay.ValidationError; a missing secret returns razorpay.ErrSecretNotConfigured.
func (s *Service) VerifyPayment(ctx context.Context, c Confirmation) (Outcome, error) {
	start := time.Now()
	log := logger.FromContext(ctx).With().
		Str("order_id", c.OrderID).
		Str("payment_id", logger.TruncateID(c.PaymentID)).
		Logger()

	result, err := s.verifier.Verify(c.OrderID, c.PaymentID, c.Signature)
	if err != nil {
		var validationErr *razorpay.ValidationError
		switch {
		case errors.Is(err, razorpay.ErrSecretNotConfigured):
			s.metrics.ObserveVerification(string(storage.SourceCheckout), metrics.OutcomeError, time.Since(start))
			log.Error().Msg("payment.verify.secret_missing")
		case errors.As(err, &validationErr):
			s.metrics.ObserveVerification(string(storage.SourceCheckout), metrics.OutcomeRejected, time.Since(start))
			log.Info().Strs("missing_fields", validationErr.Fields).Msg("payment.verify.rejected")
		default:
			s.metrics.ObserveVerification(string(storage.SourceCheckout), metrics.OutcomeError, time.Since(start))
			log.Error().Err(err).Msg("payment.verify.failed")
		}
		return Outcome{}, err
	}

	if !result.Valid {
		s.metrics.ObserveVerification(string(storage.SourceCheckout), metrics.OutcomeInvalid, time.Since(start))
		log.Warn().Msg("payment.verify.invalid_signature")
		return Outcome{Valid: false}, nil
	}

	s.metrics.ObserveVerification(string(storage.SourceCheckout), metrics.OutcomeValid, time.Since(start))
	log.Info().Msg("payment.verify.succeeded")

	isNew, err := s.settle(ctx, log, storage.PaymentRecord{
		PaymentID: result.PaymentID,
		OrderID:   c.OrderID,
		Signature: c.Signature,
		Source:    storage.SourceCheckout,
	})
	return Outcome{Valid: true, PaymentID: result.PaymentID, Duplicate: err == nil && !isNew}, nil
}

// settle records a verified payment, marks its order paid and fires the callback
// for newly recorded payments. Failures are logged and returned; callers must
// not let them undo a verification.
func (s *Service) settle(ctx context.Context, log zerolog.Logger, record storage.PaymentRecord) (bool, error) {
	processed, err := s.store.HasPaymentBeenProcessed(ctx, record.PaymentID)
	if err != nil {
		log.Warn().Err(err).Msg("payment.settle.lookup_failed")
	} else if processed {
		log.Info().Msg("payment.settle.already_recorded")
		return false, nil
	}

	order, err := s.store.GetOrder(ctx, record.OrderID)
	switch {
	case err == nil:
		if record.Amount == 0 {
			record.Amount = order.Amount
		}
		if record.Currency == "" {
			record.Currency = order.Currency
		}
		if record.Metadata == nil && len(order.Notes) > 0 {
			record.Metadata = order.Notes
		}
	case errors.Is(err, storage.ErrNotFound):
		log.Debug().Msg("payment.settle.order_unknown")
	default:
		log.Warn().Err(err).Msg("payment.settle.order_lookup_failed")
	}

	record.VerifiedAt = time.Now().UTC()
	isNew, err := s.store.RecordPayment(ctx, record)
	if err != nil {
		log.Error().Err(err).Msg("payment.settle.record_failed")
		return false, err
	}
	if !isNew {
		log.Info().Msg("payment.settle.already_recorded")
		return false, nil
	}

	if err := s.store.MarkOrderPaid(ctx, record.OrderID, record.PaymentID, record.VerifiedAt); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error().Err(err).Msg("payment.settle.mark_paid_failed")
	}

	s.notifier.PaymentVerified(ctx, callbacks.PaymentEvent{
		OrderID:    record.OrderID,
		PaymentID:  record.PaymentID,
		Amount:     record.Amount,
		Currency:   record.Currency,
		Source:     string(record.Source),
		Metadata:   record.Metadata,
		VerifiedAt: record.VerifiedAt,
	})
	return true, nil
}

// CreateOrder creates a Razorpay order and stores it locally.
// A failure to store locally is logged and the created order is still returned,
// since verification does not depend on the local copy.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) (storage.Order, error) {
	if req.Amount <= 0 {
		return storage.Order{}, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return storage.Order{}, ErrInvalidCurrency
	}
	receipt := strings.TrimSpace(req.Receipt)
	if receipt == "" {
		receipt = "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(receipt) > maxReceiptLength {
		return storage.Order{}, ErrInvalidReceipt
	}
	if s.orders == nil {
		return storage.Order{}, ErrOrdersDisabled
	}

	created, err := s.orders.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   req.Amount,
		Currency: currency,
		Receipt:  receipt,
		Notes:    req.Notes,
	})
	s.metrics.ObserveOrder(err == nil)
	log := logger.FromContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("receipt", receipt).Msg("order.create.failed")
		return storage.Order{}, fmt.Errorf("create razorpay order: %w", err)
	}

	order := storage.Order{
		ID:       created.ID,
		Amount:   created.Amount,
		Currency: created.Currency,
		Receipt:  created.Receipt,
		Status:   storage.OrderStatusCreated,
		Notes:    created.Notes,
	}
	if order.Receipt == "" {
		order.Receipt = receipt
	}
	if len(order.Notes) == 0 {
		order.Notes = req.Notes
	}
	if created.CreatedAt > 0 {
		order.CreatedAt = time.Unix(created.CreatedAt, 0).UTC()
	} else {
		order.CreatedAt = time.Now().UTC()
	}

	if err := s.store.SaveOrder(ctx, order); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("order.store_failed")
	}
	log.Info().
		Str("order_id", order.ID).
		Int64("amount", order.Amount).
		Str("currency", order.Currency).
		Msg("order.created")
	return order, nil
}

// GetPayment returns a ledger entry. Unknown ids return storage.ErrNotFound.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (storage.PaymentRecord, error) {
	if strings.TrimSpace(paymentID) == "" {
		return storage.PaymentRecord{}, storage.ErrNotFound
	}
	return s.store.GetPayment(ctx, paymentID)
}
