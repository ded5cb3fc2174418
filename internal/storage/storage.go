package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfoliodash/payserver/internal/config"
	"github.com/portfoliodash/payserver/internal/dbpool"
	"github.com/portfoliodash/payserver/internal/metrics"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// DefaultQueryTimeout bounds every database call that has no caller deadline.
const DefaultQueryTimeout = 5 * time.Second

// Store persists orders and the ledger of verified payments.
//
// The ledger is keyed by Razorpay payment id. Recording the same payment twice
// is a no-op, so a checkout confirmation and a later webhook for the same
// payment produce one entry.
type Store interface {
	SaveOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	// MarkOrderPaid flags an order as paid. It keeps the first payment id
	// and paid time and returns ErrNotFound for unknown orders.
	MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) error

	// RecordPayment adds a verified payment to the ledger and reports whether
	// it was newly recorded.
	RecordPayment(ctx context.Context, record PaymentRecord) (bool, error)
	GetPayment(ctx context.Context, paymentID string) (PaymentRecord, error)
	HasPaymentBeenProcessed(ctx context.Context, paymentID string) (bool, error)

	Close() error
}

// NewStore builds the backend named by cfg.Backend.
func NewStore(cfg config.StorageConfig, m *metrics.Metrics) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		pool, err := dbpool.NewSharedPool(cfg.PostgresURL, cfg.PostgresPool)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStoreWithDB(pool.DB(), cfg.OrdersTable, cfg.PaymentsTable)
		if err != nil {
			_ = pool.Close()
			return nil, err
		}
		store.closer = pool
		store.metrics = m
		return store, nil
	case "mongodb":
		store, err := NewMongoDBStore(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.OrdersTable, cfg.PaymentsTable)
		if err != nil {
			return nil, err
		}
		store.metrics = m
		return store, nil
	default:
		return nil, fmt.Errorf("storage: unsupported backend %q", cfg.Backend)
	}
}

// withQueryTimeout applies DefaultQueryTimeout unless ctx already has a deadline.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
