package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"
	"github.com/portfoliodash/payserver/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db            *sql.DB
	closer        io.Closer // set when the store owns the pool
	metrics       *metrics.Metrics
	ordersTable   string
	paymentsTable string
	orderIndex    string
}

// NewPostgresStoreWithDB creates a store on an existing connection pool and
// creates its tables if needed. Empty table names fall back to "orders" and "payments".
func NewPostgresStoreWithDB(db *sql.DB, ordersTable, paymentsTable string) (*PostgresStore, error) {
	if ordersTable == "" {
		ordersTable = "orders"
	}
	if paymentsTable == "" {
		paymentsTable = "payments"
	}

	store := &PostgresStore{
		db:            db,
		ordersTable:   pq.QuoteIdentifier(ordersTable),
		paymentsTable: pq.QuoteIdentifier(paymentsTable),
		orderIndex:    pq.QuoteIdentifier(paymentsTable + "_order_id_idx"),
	}
	if err := store.createTables(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			receipt TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			notes JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			paid_at TIMESTAMPTZ,
			payment_id TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS %[2]s (
			payment_id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			signature TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			metadata JSONB,
			verified_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS %[3]s ON %[2]s (order_id);
	`, s.ordersTable, s.paymentsTable, s.orderIndex)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create postgres tables: %w", err)
	}
	return nil
}

// SaveOrder inserts or replaces an order.
func (s *PostgresStore) SaveOrder(ctx context.Context, order Order) error {
	if err := prepareOrder(&order); err != nil {
		return err
	}
	defer metrics.MeasureDBQuery(s.metrics, "save_order", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	notes, err := json.Marshal(order.Notes)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, amount, currency, receipt, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET amount   = EXCLUDED.amount,
		    currency = EXCLUDED.currency,
		    receipt  = EXCLUDED.receipt,
		    notes    = EXCLUDED.notes
	`, s.ordersTable)

	_, err = s.db.ExecContext(ctx, query,
		order.ID,
		order.Amount,
		order.Currency,
		order.Receipt,
		string(order.Status),
		notes,
		order.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (s *PostgresStore) GetOrder(ctx context.Context, orderID string) (Order, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_order", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, amount, currency, receipt, status, notes, created_at, paid_at, payment_id
		FROM %s
		WHERE id = $1
	`, s.ordersTable)

	var (
		order  Order
		status string
		notes  []byte
		paidAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID,
		&order.Amount,
		&order.Currency,
		&order.Receipt,
		&status,
		&notes,
		&order.CreatedAt,
		&paidAt,
		&order.PaymentID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("query order: %w", err)
	}

	order.Status = OrderStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		order.PaidAt = &t
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &order.Notes); err != nil {
			return Order{}, fmt.Errorf("unmarshal notes: %w", err)
		}
	}
	return order, nil
}

// MarkOrderPaid flags an order as paid. The first payment id and paid time win.
func (s *PostgresStore) MarkOrderPaid(ctx context.Context, orderID, paymentID string, paidAt time.Time) error {
	defer metrics.MeasureDBQuery(s.metrics, "mark_order_paid", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status     = $2,
		    payment_id = CASE WHEN payment_id = '' THEN $3 ELSE payment_id END,
		    paid_at    = COALESCE(paid_at, $4)
		WHERE id = $1
	`, s.ordersTable)

	result, err := s.db.ExecContext(ctx, query, orderID, string(OrderStatusPaid), paymentID, paidAt.UTC())
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordPayment inserts a ledger entry. An existing payment id leaves the
// ledger unchanged and reports false.
func (s *PostgresStore) RecordPayment(ctx context.Context, record PaymentRecord) (bool, error) {
	if err := preparePayment(&record); err != nil {
		return false, err
	}
	defer metrics.MeasureDBQuery(s.metrics, "record_payment", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (payment_id, order_id, signature, source, amount, currency, status, metadata, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (payment_id) DO NOTHING
	`, s.paymentsTable)

	result, err := s.db.ExecContext(ctx, query,
		record.PaymentID,
		record.OrderID,
		record.Signature,
		string(record.Source),
		record.Amount,
		record.Currency,
		record.Status,
		metadata,
		record.VerifiedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("record payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

// GetPayment retrieves a ledger entry by payment id.
func (s *PostgresStore) GetPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	defer metrics.MeasureDBQuery(s.metrics, "get_payment", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT payment_id, order_id, signature, source, amount, currency, status, metadata, verified_at
		FROM %s
		WHERE payment_id = $1
	`, s.paymentsTable)

	var (
		record   PaymentRecord
		source   string
		metadata []byte
	)
	err := s.db.QueryRowContext(ctx, query, paymentID).Scan(
		&record.PaymentID,
		&record.OrderID,
		&record.Signature,
		&source,
		&record.Amount,
		&record.Currency,
		&record.Status,
		&metadata,
		&record.VerifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return PaymentRecord{}, ErrNotFound
	}
	if err != nil {
		return PaymentRecord{}, fmt.Errorf("query payment: %w", err)
	}

	record.Source = PaymentSource(source)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return PaymentRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return record, nil
}

// HasPaymentBeenProcessed reports whether the payment id is in the ledger.
func (s *PostgresStore) HasPaymentBeenProcessed(ctx context.Context, paymentID string) (bool, error) {
	defer metrics.MeasureDBQuery(s.metrics, "has_payment", "postgres")()
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE payment_id = $1)`, s.paymentsTable)

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, paymentID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check payment processed: %w", err)
	}
	return exists, nil
}

// Close releases the pool when the store owns it.
func (s *PostgresStore) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
